// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/crmrealtime/internal/log"
	"github.com/ManuGH/crmrealtime/internal/metrics"
	"github.com/ManuGH/crmrealtime/internal/resilience"
)

// publishScript stamps, buffers and publishes in one atomic step so pub/sub
// order equals position order.
//
// KEYS[1] sequence counter, KEYS[2] tenant replay set, KEYS[3] channel.
// ARGV[1] envelope json, ARGV[2] replay window, ARGV[3] replay ttl (ms).
var publishScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
local msg = seq .. '|' .. ARGV[1]
redis.call('ZADD', KEYS[2], seq, msg)
redis.call('ZREMRANGEBYRANK', KEYS[2], 0, -(tonumber(ARGV[2]) + 1))
redis.call('PEXPIRE', KEYS[2], ARGV[3])
redis.call('PUBLISH', KEYS[3], msg)
return seq
`)

const (
	redisDialTimeout = 5 * time.Second
	receiveBuffer    = 1024
	breakerName      = "bus_redis_publish"
)

// redisBus shares one PSUBSCRIBE per instance and re-filters locally.
type redisBus struct {
	client    *redis.Client
	pubsub    *redis.PubSub
	hub       *hub
	breaker   *resilience.CircuitBreaker
	logger    zerolog.Logger
	now       func() time.Time
	prefix    string
	window    int
	replayTTL time.Duration
	opTimeout time.Duration

	receiving atomic.Bool
	closed    atomic.Bool
	done      chan struct{}
}

func openRedisBus(ctx context.Context, cfg Config) (*redisBus, error) {
	rc := cfg.Redis
	if rc.Addr == "" {
		return nil, fmt.Errorf("redis bus: address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  rc.OpTimeout,
		WriteTimeout: rc.OpTimeout,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	dialCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(dialCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis connection failed: %w", ErrBusUnavailable, err)
	}

	b := &redisBus{
		client:    client,
		hub:       newHub(BackendRedis, cfg.SubscriberBuffer),
		breaker:   resilience.NewCircuitBreaker(breakerName, rc.BreakerThreshold, rc.BreakerReset),
		logger:    log.WithComponent("bus").With().Str(log.FieldBackend, BackendRedis).Logger(),
		now:       time.Now,
		prefix:    rc.Prefix,
		window:    cfg.ReplayWindow,
		replayTTL: rc.ReplayTTL,
		opTimeout: rc.OpTimeout,
		done:      make(chan struct{}),
	}

	b.pubsub = client.PSubscribe(ctx, b.channelPattern())
	if _, err := b.pubsub.Receive(dialCtx); err != nil {
		_ = b.pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis psubscribe failed: %w", ErrBusUnavailable, err)
	}
	b.receiving.Store(true)
	go b.receive(b.pubsub.Channel(redis.WithChannelSize(receiveBuffer)))

	b.logger.Info().
		Str(log.FieldEvent, "bus.opened").
		Str("addr", rc.Addr).
		Str("prefix", rc.Prefix).
		Msg("redis event bus connected")
	return b, nil
}

func (b *redisBus) seqKey() string { return b.prefix + ":seq" }

func (b *redisBus) replayKey(tenantID string) string {
	return b.prefix + ":replay:" + tenantID
}

func (b *redisBus) channel(env Envelope) string {
	root, _, _ := strings.Cut(env.Topic, ".")
	return b.prefix + ":evt:" + env.TenantID + ":" + root
}

func (b *redisBus) channelPattern() string { return b.prefix + ":evt:*" }

func (b *redisBus) Publish(ctx context.Context, ev Event) (Envelope, error) {
	if ctx == nil {
		return Envelope{}, fmt.Errorf("publish context is nil")
	}
	env, err := buildEnvelope(ev, b.now())
	if err != nil {
		return Envelope{}, err
	}
	if b.closed.Load() {
		return Envelope{}, ErrClosed
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	keys := []string{b.seqKey(), b.replayKey(env.TenantID), b.channel(env)}
	var seq int64
	err = b.breaker.Execute(func() error {
		opCtx, cancel := context.WithTimeout(ctx, b.opTimeout)
		defer cancel()
		n, runErr := publishScript.Run(opCtx, b.client, keys, body, b.window, b.replayTTL.Milliseconds()).Int64()
		if runErr != nil {
			return runErr
		}
		seq = n
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Envelope{}, fmt.Errorf("publish topic %q: %w", env.Topic, ctxErr)
		}
		return Envelope{}, fmt.Errorf("%w: %w", ErrBusUnavailable, err)
	}
	env.Position = uint64(seq)
	return env, nil
}

func (b *redisBus) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}
	s, err := b.hub.add(f)
	if err != nil {
		return nil, err
	}

	var replay []Envelope
	if f.After > 0 {
		replay, err = b.replay(ctx, f)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: replay: %w", ErrBusUnavailable, err)
		}
	}
	b.hub.release(s, replay)
	return s, nil
}

// replay reads the tenant's buffered envelopes after f.After.
func (b *redisBus) replay(ctx context.Context, f Filter) ([]Envelope, error) {
	opCtx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()

	msgs, err := b.client.ZRangeByScore(opCtx, b.replayKey(f.TenantID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatUint(f.After, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Envelope, 0, len(msgs))
	for _, msg := range msgs {
		env, err := decodeWire(msg)
		if err != nil {
			b.logger.Warn().Err(err).Str(log.FieldEvent, "bus.decode_failed").Msg("skipping undecodable replay entry")
			continue
		}
		if f.Match(env) {
			out = append(out, env)
		}
	}
	return out, nil
}

func (b *redisBus) receive(ch <-chan *redis.Message) {
	defer close(b.done)
	defer b.receiving.Store(false)
	for msg := range ch {
		env, err := decodeWire(msg.Payload)
		if err != nil {
			metrics.IncBusDrop("decode_error")
			b.logger.Warn().Err(err).
				Str(log.FieldEvent, "bus.decode_failed").
				Str("channel", msg.Channel).
				Msg("dropping undecodable pub/sub message")
			continue
		}
		b.hub.deliver(env)
	}
}

// decodeWire parses "<seq>|<envelope json>".
func decodeWire(msg string) (Envelope, error) {
	rawSeq, body, ok := strings.Cut(msg, "|")
	if !ok {
		return Envelope{}, errors.New("missing position separator")
	}
	pos, err := strconv.ParseUint(rawSeq, 10, 64)
	if err != nil {
		return Envelope{}, fmt.Errorf("bad position %q: %w", rawSeq, err)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Envelope{}, fmt.Errorf("bad envelope: %w", err)
	}
	env.Position = pos
	return env, nil
}

func (b *redisBus) Health(ctx context.Context) Status {
	if b.closed.Load() {
		return StatusDown
	}
	pingCtx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()
	if err := b.client.Ping(pingCtx).Err(); err != nil {
		return StatusDown
	}
	if b.breaker.State() != resilience.StateClosed || !b.receiving.Load() {
		return StatusDegraded
	}
	return StatusOK
}

func (b *redisBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	psErr := b.pubsub.Close()
	<-b.done
	b.hub.closeAll()
	return errors.Join(psErr, b.client.Close())
}

var _ Bus = (*redisBus)(nil)
