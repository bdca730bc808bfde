// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/crmrealtime/internal/validate"
)

func validConfig() AppConfig {
	cfg := Defaults()
	cfg.Auth.JWT.Secret = "secret"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Validate(validConfig()))
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{"unknown backend", func(c *AppConfig) { c.Bus.Backend = "nats" }, "bus.backend"},
		{"zero replay window", func(c *AppConfig) { c.Bus.ReplayWindow = 0 }, "bus.replayWindow"},
		{"redis without addr", func(c *AppConfig) { c.Bus.Backend = BackendRedis; c.Bus.Redis.Addr = "" }, "bus.redis.addr"},
		{"unknown overflow policy", func(c *AppConfig) { c.Gateway.OverflowPolicy = "block" }, "gateway.overflowPolicy"},
		{"negative send buffer", func(c *AppConfig) { c.Gateway.SendBuffer = -1 }, "gateway.sendBuffer"},
		{"zero dedupe window", func(c *AppConfig) { c.Gateway.DedupeWindow = 0 }, "gateway.dedupeWindow"},
		{"max below default timeout", func(c *AppConfig) { c.LongPoll.MaxTimeout = 10 * time.Second }, "longpoll.maxTimeout"},
		{"bad listen", func(c *AppConfig) { c.Server.Listen = "8090" }, "server.listen"},
		{"metrics on api port", func(c *AppConfig) { c.Metrics.Listen = c.Server.Listen }, "metrics.listen"},
		{"bad log level", func(c *AppConfig) { c.Log.Level = "chatty" }, "log.level"},
		{"unknown auth mode", func(c *AppConfig) { c.Auth.Mode = "basic" }, "auth.mode"},
		{"jwt without key", func(c *AppConfig) { c.Auth.JWT.Secret = "" }, "auth.jwt"},
		{"jwt with both keys", func(c *AppConfig) { c.Auth.JWT.PublicKeyFile = "/etc/key.pem" }, "auth.jwt"},
		{"static without file", func(c *AppConfig) { c.Auth.Mode = AuthModeStatic }, "auth.static.file"},
		{"kafka without brokers", func(c *AppConfig) { c.Ingest.Kafka.Enabled = true }, "ingest.kafka.brokers"},
		{"bad exporter", func(c *AppConfig) { c.Telemetry.Enabled = true; c.Telemetry.Exporter = "zipkin" }, "telemetry.exporter"},
		{"bad sampling rate", func(c *AppConfig) { c.Telemetry.Enabled = true; c.Telemetry.SamplingRate = 2 }, "telemetry.samplingRate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := Validate(cfg)
			require.Error(t, err)

			var ve validate.ValidationError
			require.ErrorAs(t, err, &ve)
			fields := make([]string, 0, len(ve.Errors()))
			for _, e := range ve.Errors() {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidate_StaticAuthWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tokens: []\n"), 0600))

	cfg := Defaults()
	cfg.Auth.Mode = AuthModeStatic
	cfg.Auth.Static.File = path
	assert.NoError(t, Validate(cfg))
}

func TestValidate_JWTPublicKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, []byte("-----BEGIN PUBLIC KEY-----\n"), 0600))

	cfg := Defaults()
	cfg.Auth.JWT.PublicKeyFile = path
	assert.NoError(t, Validate(cfg))
}
