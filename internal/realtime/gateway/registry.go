// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/crmrealtime/internal/topic"
)

// ErrDuplicateConnection is returned when a connection id is registered twice.
var ErrDuplicateConnection = errors.New("connection already registered")

// Subscription is the per-connection routing state. TenantID is fixed at
// authentication; patterns and cursor are written only by the owning session.
type Subscription struct {
	ConnectionID string
	UserID       string
	TenantID     string
	ConnectedAt  time.Time

	mu       sync.RWMutex
	patterns *topic.Set
	cursor   uint64
}

// NewSubscription returns an empty subscription.
func NewSubscription(connID, userID, tenantID string, now time.Time) *Subscription {
	return &Subscription{
		ConnectionID: connID,
		UserID:       userID,
		TenantID:     tenantID,
		ConnectedAt:  now,
		patterns:     topic.NewSet(),
	}
}

// Add adds patterns and returns the effective set.
func (s *Subscription) Add(patterns ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range patterns {
		s.patterns.Add(p)
	}
	return s.patterns.Slice()
}

// Remove drops patterns and returns the effective set.
func (s *Subscription) Remove(patterns ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range patterns {
		s.patterns.Remove(p)
	}
	return s.patterns.Slice()
}

// Patterns returns the current pattern set, sorted.
func (s *Subscription) Patterns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patterns.Slice()
}

// PatternCount returns the number of patterns.
func (s *Subscription) PatternCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patterns.Len()
}

// Matches reports whether an envelope of tenantID/topicName is for this
// connection.
func (s *Subscription) Matches(tenantID, topicName string) bool {
	if tenantID != s.TenantID {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patterns.MatchAny(topicName)
}

// Advance moves the cursor forward; it never moves back.
func (s *Subscription) Advance(pos uint64) {
	s.mu.Lock()
	if pos > s.cursor {
		s.cursor = pos
	}
	s.mu.Unlock()
}

// Cursor returns the highest delivered position.
func (s *Subscription) Cursor() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// Registry indexes live subscriptions by connection id.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*Subscription)}
}

func (r *Registry) Register(s *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[s.ConnectionID]; ok {
		return ErrDuplicateConnection
	}
	r.subs[s.ConnectionID] = s
	return nil
}

func (r *Registry) Get(connID string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[connID]
	return s, ok
}

// Unregister removes connID and reports whether it was present.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[connID]; !ok {
		return false
	}
	delete(r.subs, connID)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Snapshot returns live connection counts per tenant.
func (r *Registry) Snapshot() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int)
	for _, s := range r.subs {
		out[s.TenantID]++
	}
	return out
}
