// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"sync"
	"sync/atomic"

	"github.com/ManuGH/crmrealtime/internal/log"
	"github.com/ManuGH/crmrealtime/internal/metrics"
	"github.com/ManuGH/crmrealtime/internal/topic"
)

const dropLogEvery = 100

// hub is the local fan-out shared by all backends. A subscription starts out
// holding: live envelopes are parked in pending until release hands over the
// replay batch, so replay and live never overlap or leave a gap.
type hub struct {
	backend string
	buffer  int

	mu     sync.Mutex
	subs   map[string]map[*hubSub]struct{} // tenant -> subscriptions
	count  int
	closed bool

	drops atomic.Uint64
}

func newHub(backend string, buffer int) *hub {
	return &hub{
		backend: backend,
		buffer:  buffer,
		subs:    make(map[string]map[*hubSub]struct{}),
	}
}

type hubSub struct {
	h       *hub
	tenant  string
	after   uint64
	matcher *topic.Set

	// guarded by h.mu
	ch      chan Envelope
	holding bool
	pending []Envelope
	last    uint64
	closed  bool
}

func (s *hubSub) C() <-chan Envelope {
	return s.ch
}

func (s *hubSub) Close() error {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	s.h.removeLocked(s)
	return nil
}

func (s *hubSub) matches(env Envelope) bool {
	return env.TenantID == s.tenant && s.matcher.MatchAny(env.Topic)
}

// add registers a holding subscription.
func (h *hub) add(f Filter) (*hubSub, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	s := &hubSub{
		h:       h,
		tenant:  f.TenantID,
		after:   f.After,
		matcher: topic.NewSet(f.Patterns...),
		holding: true,
		last:    f.After,
	}
	tenantSubs := h.subs[f.TenantID]
	if tenantSubs == nil {
		tenantSubs = make(map[*hubSub]struct{})
		h.subs[f.TenantID] = tenantSubs
	}
	tenantSubs[s] = struct{}{}
	h.count++
	metrics.BusSubscriptions.WithLabelValues(h.backend).Inc()
	return s, nil
}

// release hands the replay batch (position ordered) to s, then whatever
// arrived live while it was holding, and switches it to live delivery.
func (h *hub) release(s *hubSub, replay []Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}

	s.ch = make(chan Envelope, h.buffer+len(replay)+len(s.pending))
	for _, env := range replay {
		if env.Position <= s.last || !s.matches(env) {
			continue
		}
		s.ch <- env
		s.last = env.Position
	}
	for _, env := range s.pending {
		if env.Position <= s.last {
			continue
		}
		s.ch <- env
		s.last = env.Position
	}
	s.pending = nil
	s.holding = false
}

// deliver fans env out to the tenant's subscriptions without blocking.
func (h *hub) deliver(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs[env.TenantID] {
		if env.Position <= s.last || !s.matches(env) {
			continue
		}
		if s.holding {
			if len(s.pending) >= h.buffer {
				h.dropLocked(env, "replay_overflow")
				continue
			}
			s.pending = append(s.pending, env)
			continue
		}
		select {
		case s.ch <- env:
			s.last = env.Position
		default:
			h.dropLocked(env, "subscriber_full")
		}
	}
}

func (h *hub) dropLocked(env Envelope, reason string) {
	metrics.IncBusDrop(reason)
	count := h.drops.Add(1)
	if count%dropLogEvery == 1 {
		log.L().Warn().
			Str(log.FieldEvent, "bus.dropped").
			Str(log.FieldBackend, h.backend).
			Str(log.FieldTenantID, env.TenantID).
			Str(log.FieldTopic, env.Topic).
			Str("reason", reason).
			Uint64("dropped", count).
			Msg("subscriber buffer full, envelope dropped")
	}
}

func (h *hub) removeLocked(s *hubSub) {
	if s.closed {
		return
	}
	s.closed = true
	if tenantSubs := h.subs[s.tenant]; tenantSubs != nil {
		delete(tenantSubs, s)
		if len(tenantSubs) == 0 {
			delete(h.subs, s.tenant)
		}
	}
	h.count--
	metrics.BusSubscriptions.WithLabelValues(h.backend).Dec()
	if s.ch != nil {
		close(s.ch)
	} else {
		// Never released: hand out a closed channel so readers don't block.
		s.ch = make(chan Envelope)
		close(s.ch)
	}
	s.pending = nil
}

// closeAll ends every subscription and rejects new ones.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, tenantSubs := range h.subs {
		for s := range tenantSubs {
			h.removeLocked(s)
		}
	}
}

// len reports the number of live subscriptions.
func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
