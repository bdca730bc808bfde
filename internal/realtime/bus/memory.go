// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryBus is the in-process backend. Positions come from a counter
// guarded by mu; each tenant has its own fixed-size replay ring, matching
// the per-tenant sorted set of the redis backend.
type memoryBus struct {
	hub    *hub
	now    func() time.Time
	window int

	mu     sync.Mutex
	seq    uint64
	rings  map[string]*replayRing
	closed bool
}

func newMemoryBus(cfg Config) *memoryBus {
	return &memoryBus{
		hub:    newHub(BackendMemory, cfg.SubscriberBuffer),
		now:    time.Now,
		window: cfg.ReplayWindow,
		rings:  make(map[string]*replayRing),
	}
}

// replayRing keeps the last len(buf) envelopes of one tenant.
type replayRing struct {
	buf    []Envelope
	next   int
	filled bool
}

func (r *replayRing) push(env Envelope) {
	r.buf[r.next] = env
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.filled = true
	}
}

// each visits the ring oldest first.
func (r *replayRing) each(fn func(Envelope)) {
	if r.filled {
		for _, env := range r.buf[r.next:] {
			fn(env)
		}
	}
	for _, env := range r.buf[:r.next] {
		fn(env)
	}
}

func (b *memoryBus) Publish(ctx context.Context, ev Event) (Envelope, error) {
	if ctx == nil {
		return Envelope{}, fmt.Errorf("publish context is nil")
	}
	if err := ctx.Err(); err != nil {
		return Envelope{}, fmt.Errorf("publish topic %q: %w", ev.Topic, err)
	}
	env, err := buildEnvelope(ev, b.now())
	if err != nil {
		return Envelope{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Envelope{}, ErrClosed
	}
	b.seq++
	env.Position = b.seq
	ring, ok := b.rings[env.TenantID]
	if !ok {
		ring = &replayRing{buf: make([]Envelope, b.window)}
		b.rings[env.TenantID] = ring
	}
	ring.push(env)
	// Fan-out under mu keeps delivery order equal to position order.
	b.hub.deliver(env)
	return env, nil
}

func (b *memoryBus) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	s, err := b.hub.add(f)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	var replay []Envelope
	if f.After > 0 {
		replay = b.replayLocked(f)
	}
	b.mu.Unlock()

	b.hub.release(s, replay)
	return s, nil
}

// replayLocked returns the tenant's ring entries matching f, oldest first.
func (b *memoryBus) replayLocked(f Filter) []Envelope {
	ring, ok := b.rings[f.TenantID]
	if !ok {
		return nil
	}
	var out []Envelope
	ring.each(func(env Envelope) {
		if env.Position != 0 && f.Match(env) {
			out = append(out, env)
		}
	})
	return out
}

func (b *memoryBus) Health(context.Context) Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return StatusDown
	}
	return StatusOK
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.hub.closeAll()
	return nil
}

var _ Bus = (*memoryBus)(nil)
