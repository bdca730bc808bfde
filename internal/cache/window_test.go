// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"strconv"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestWindow(ttl time.Duration, capacity int) (*Window, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	w := NewWindow(ttl, capacity)
	w.now = clk.Now
	return w, clk
}

func TestWindow_SeenAfterAdd(t *testing.T) {
	w, _ := newTestWindow(time.Minute, 10)

	if w.Seen("k1") {
		t.Fatal("expected k1 to be unseen")
	}
	w.Add("k1")
	if !w.Seen("k1") {
		t.Fatal("expected k1 to be seen")
	}

	stats := w.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Adds != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestWindow_Expiry(t *testing.T) {
	w, clk := newTestWindow(100*time.Millisecond, 10)

	w.Add("k1")
	clk.t = clk.t.Add(50 * time.Millisecond)
	if !w.Seen("k1") {
		t.Fatal("expected k1 within ttl")
	}

	clk.t = clk.t.Add(60 * time.Millisecond)
	if w.Seen("k1") {
		t.Fatal("expected k1 to have expired")
	}
	if w.Len() != 0 {
		t.Errorf("expected empty window, got %d", w.Len())
	}
}

func TestWindow_CapacityEvictsOldest(t *testing.T) {
	w, _ := newTestWindow(time.Hour, 3)

	for i := 0; i < 5; i++ {
		w.Add("k" + strconv.Itoa(i))
	}

	if w.Len() != 3 {
		t.Fatalf("expected 3 keys, got %d", w.Len())
	}
	if w.Seen("k0") || w.Seen("k1") {
		t.Error("expected oldest keys to be evicted")
	}
	if !w.Seen("k4") {
		t.Error("expected newest key to be present")
	}
	if got := w.Stats().Evictions; got != 2 {
		t.Errorf("expected 2 evictions, got %d", got)
	}
}

func TestWindow_CheckAndAdd(t *testing.T) {
	w, _ := newTestWindow(time.Minute, 10)

	if w.CheckAndAdd("k1") {
		t.Fatal("first CheckAndAdd must report unseen")
	}
	if !w.CheckAndAdd("k1") {
		t.Fatal("second CheckAndAdd must report seen")
	}
}

func TestWindow_RefreshMovesToBack(t *testing.T) {
	w, clk := newTestWindow(100*time.Millisecond, 10)

	w.Add("a")
	clk.t = clk.t.Add(60 * time.Millisecond)
	w.Add("b")
	w.Add("a") // refresh
	clk.t = clk.t.Add(60 * time.Millisecond)

	if !w.Seen("a") {
		t.Error("refreshed key must still be live")
	}
	if !w.Seen("b") {
		t.Error("b must still be live")
	}
}

func TestNewWindow_Defaults(t *testing.T) {
	w := NewWindow(0, 0)
	if w.ttl != 60*time.Second || w.capacity != 1024 {
		t.Errorf("unexpected defaults: ttl=%v capacity=%d", w.ttl, w.capacity)
	}
}
