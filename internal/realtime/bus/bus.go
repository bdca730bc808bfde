// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus is the event bus of the realtime service: domain collaborators
// publish envelopes, connection handlers subscribe with a tenant and topic
// filter. Backends are selected by Open.
package bus

import (
	"context"
	"fmt"
	"time"
)

// Bus is the contract shared by every backend.
type Bus interface {
	// Publish stamps a position on ev and fans it out without blocking on
	// subscribers. It never retries.
	Publish(ctx context.Context, ev Event) (Envelope, error)
	// Subscribe registers a subscription. With Filter.After > 0 buffered
	// envelopes still inside the resumption window are yielded first.
	Subscribe(ctx context.Context, f Filter) (Subscription, error)
	Health(ctx context.Context) Status
	// Close ends every live subscription.
	Close() error
}

// Subscription is a live feed of envelopes matching a Filter.
type Subscription interface {
	// C is closed when the subscription ends.
	C() <-chan Envelope
	// Close is idempotent and unregisters synchronously.
	Close() error
}

// Status is the coarse backend health.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

const (
	defaultReplayWindow     = 1024
	defaultSubscriberBuffer = 256
	defaultRedisPrefix      = "crmrt"
	defaultOpTimeout        = 3 * time.Second
	defaultReplayTTL        = 10 * time.Minute
)

// Config selects and sizes a backend.
type Config struct {
	Backend          string
	ReplayWindow     int
	SubscriberBuffer int
	Redis            RedisConfig
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// OpTimeout bounds every redis round trip.
	OpTimeout time.Duration
	// ReplayTTL expires idle per-tenant replay sets.
	ReplayTTL time.Duration
	// BreakerThreshold and BreakerReset tune the publish circuit breaker.
	BreakerThreshold int
	BreakerReset     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = defaultReplayWindow
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = defaultSubscriberBuffer
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = defaultRedisPrefix
	}
	if c.Redis.OpTimeout <= 0 {
		c.Redis.OpTimeout = defaultOpTimeout
	}
	if c.Redis.ReplayTTL <= 0 {
		c.Redis.ReplayTTL = defaultReplayTTL
	}
	return c
}

// Open builds the configured backend. It is the only place that names
// concrete backends.
func Open(ctx context.Context, cfg Config) (Bus, error) {
	cfg = cfg.withDefaults()

	var b Bus
	switch cfg.Backend {
	case BackendMemory:
		b = newMemoryBus(cfg)
	case BackendRedis:
		rb, err := openRedisBus(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b = rb
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.Backend)
	}
	return instrument(b, cfg.Backend), nil
}
