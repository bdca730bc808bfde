// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

// jwtEnv satisfies the default auth mode.
func jwtEnv(t *testing.T) {
	t.Setenv("CRMRT_JWT_SECRET", "test-secret")
}

func TestLoad_DefaultsOnly(t *testing.T) {
	jwtEnv(t)
	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	want := Defaults()
	want.Version = "v1.2.3"
	want.Auth.JWT.Secret = "test-secret"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	jwtEnv(t)
	path := writeConfig(t, "config.yaml", `
server:
  listen: ":9000"
  shutdownTimeout: 5s
bus:
  backend: redis
  redis:
    addr: redis:6379
    prefix: crm
gateway:
  overflowPolicy: disconnect
  allowedOrigins: ["app.example.com"]
longpoll:
  maxBatch: 10
`)
	cfg, err := NewLoader(path, "test").Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, BackendRedis, cfg.Bus.Backend)
	assert.Equal(t, "redis:6379", cfg.Bus.Redis.Addr)
	assert.Equal(t, "crm", cfg.Bus.Redis.Prefix)
	assert.Equal(t, 3*time.Second, cfg.Bus.Redis.OpTimeout, "untouched keys keep defaults")
	assert.Equal(t, OverflowDisconnect, cfg.Gateway.OverflowPolicy)
	assert.Equal(t, []string{"app.example.com"}, cfg.Gateway.AllowedOrigins)
	assert.Equal(t, 10, cfg.LongPoll.MaxBatch)
	assert.Equal(t, 30*time.Second, cfg.LongPoll.DefaultTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	jwtEnv(t)
	path := writeConfig(t, "config.yaml", "server:\n  listen: \":9000\"\ngateway:\n  sendBuffer: 64\n")
	t.Setenv("CRMRT_LISTEN", ":9100")
	t.Setenv("CRMRT_WS_SEND_BUFFER", "32")
	t.Setenv("CRMRT_KAFKA_ENABLED", "true")
	t.Setenv("CRMRT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CRMRT_OTEL_SAMPLING_RATE", "0.5")

	l := NewLoader(path, "test")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Listen)
	assert.Equal(t, 32, cfg.Gateway.SendBuffer)
	assert.True(t, cfg.Ingest.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Ingest.Kafka.Brokers)
	assert.Equal(t, 0.5, cfg.Telemetry.SamplingRate)
	assert.Contains(t, l.ConsumedKeys(), "CRMRT_WS_SEND_BUFFER")
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	jwtEnv(t)
	path := writeConfig(t, "config.yaml", "server:\n  listen: \":9000\"\nunexpectedRootKey: true\n")

	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoad_InvalidTypeFails(t *testing.T) {
	jwtEnv(t)
	path := writeConfig(t, "config.yaml", "bus:\n  replayWindow: lots\n")

	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoad_MultipleDocumentsFail(t *testing.T) {
	jwtEnv(t)
	path := writeConfig(t, "config.yaml", "server:\n  listen: \":9000\"\n---\nserver:\n  listen: \":9001\"\n")

	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple documents")
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	jwtEnv(t)
	path := writeConfig(t, "config.yml", "")

	cfg, err := NewLoader(path, "test").Load()
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Server.Listen)
}

func TestLoad_RejectsNonYAML(t *testing.T) {
	path := writeConfig(t, "config.json", "{}")
	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only YAML supported")
}

func TestLoad_ValidationFails(t *testing.T) {
	path := writeConfig(t, "config.yaml", "auth:\n  mode: jwt\n")
	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt")
}
