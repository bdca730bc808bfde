// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRedis(t *testing.T, cfg Config) Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Backend = BackendRedis
	cfg.Redis.Addr = mr.Addr()
	b, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBus_Contract(t *testing.T) {
	RunContractTests(t, openRedis)
}

func TestRedisBus_OpenFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Open(context.Background(), Config{Backend: BackendRedis, Redis: RedisConfig{Addr: addr}})
	assert.ErrorIs(t, err, ErrBusUnavailable)
}

func TestRedisBus_RequiresAddr(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: BackendRedis})
	require.Error(t, err)
}

func TestRedisBus_ScriptWritesReplaySet(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := Open(context.Background(), Config{
		Backend:      BackendRedis,
		ReplayWindow: 3,
		Redis:        RedisConfig{Addr: mr.Addr(), Prefix: "test"},
	})
	require.NoError(t, err)
	defer b.Close()

	for i := 0; i < 5; i++ {
		publish(t, b, "acme", "vendor.updated", `{}`)
	}

	seq, err := mr.Get("test:seq")
	require.NoError(t, err)
	assert.Equal(t, "5", seq)

	members, err := mr.ZMembers("test:replay:acme")
	require.NoError(t, err)
	assert.Len(t, members, 3, "replay set trimmed to the window")
	assert.True(t, mr.TTL("test:replay:acme") > 0, "replay set expires when idle")
}

func TestRedisBus_UnavailableWhenServerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := Open(context.Background(), Config{
		Backend: BackendRedis,
		Redis:   RedisConfig{Addr: mr.Addr(), OpTimeout: 200 * time.Millisecond, BreakerThreshold: 2},
	})
	require.NoError(t, err)
	defer b.Close()

	mr.Close()

	for i := 0; i < 3; i++ {
		_, err = b.Publish(context.Background(), Event{Topic: "deal.created", TenantID: "t1"})
		assert.ErrorIs(t, err, ErrBusUnavailable)
	}
	assert.Equal(t, StatusDown, b.Health(context.Background()))
}

func TestDecodeWire(t *testing.T) {
	env, err := decodeWire(`42|{"id":"x","topic":"deal.created","payload":{"a":1},"tenant_id":"t1","idempotency_key":"k","created_at":"2025-01-01T00:00:00Z"}`)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), env.Position)
	assert.Equal(t, "deal.created", env.Topic)
	assert.Equal(t, "t1", env.TenantID)

	_, err = decodeWire("no-separator")
	assert.Error(t, err)
	_, err = decodeWire("x|{}")
	assert.Error(t, err)
	_, err = decodeWire("1|{bad")
	assert.Error(t, err)
}
