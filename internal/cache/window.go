// SPDX-License-Identifier: MIT

// Package cache provides a bounded, expiring key window used to suppress
// duplicate deliveries.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// WindowStats holds window counters.
type WindowStats struct {
	Hits        int64 // Seen calls that found a live key
	Misses      int64 // Seen calls that found nothing (or an expired key)
	Adds        int64 // Keys recorded
	Evictions   int64 // Keys removed by capacity or expiry
	CurrentSize int   // Keys currently held
}

// entry is one recorded key with its expiry.
type entry struct {
	key        string
	expiration time.Time
}

// Window remembers recently seen keys for a fixed TTL, holding at most
// capacity keys. When full, the oldest key is evicted first. Expired keys are
// removed lazily on access, so no background goroutine is needed.
type Window struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	order    *list.List // front = oldest
	index    map[string]*list.Element
	stats    WindowStats
	now      func() time.Time
}

// NewWindow creates a window that keeps keys for ttl and holds at most
// capacity keys. Non-positive arguments fall back to 60s and 1024.
func NewWindow(ttl time.Duration, capacity int) *Window {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if capacity <= 0 {
		capacity = 1024
	}
	return &Window{
		ttl:      ttl,
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// Seen reports whether key was recorded within the window.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireLocked()
	if _, ok := w.index[key]; ok {
		w.stats.Hits++
		return true
	}
	w.stats.Misses++
	return false
}

// Add records key. Re-adding a live key refreshes its expiry.
func (w *Window) Add(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireLocked()
	exp := w.now().Add(w.ttl)
	if el, ok := w.index[key]; ok {
		el.Value.(*entry).expiration = exp
		w.order.MoveToBack(el)
		w.stats.Adds++
		return
	}

	for w.order.Len() >= w.capacity {
		w.removeLocked(w.order.Front())
	}
	w.index[key] = w.order.PushBack(&entry{key: key, expiration: exp})
	w.stats.Adds++
}

// CheckAndAdd records key and reports whether it had already been seen.
func (w *Window) CheckAndAdd(key string) bool {
	if w.Seen(key) {
		return true
	}
	w.Add(key)
	return false
}

// Len returns the number of live keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expireLocked()
	return w.order.Len()
}

// Stats returns window statistics.
func (w *Window) Stats() WindowStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := w.stats
	stats.CurrentSize = w.order.Len()
	return stats
}

// expireLocked drops expired keys from the front. Keys are ordered by last
// refresh, so the first live key ends the scan.
func (w *Window) expireLocked() {
	now := w.now()
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if now.Before(el.Value.(*entry).expiration) {
			return
		}
		w.removeLocked(el)
	}
}

func (w *Window) removeLocked(el *list.Element) {
	e := w.order.Remove(el).(*entry)
	delete(w.index, e.key)
	w.stats.Evictions++
}
