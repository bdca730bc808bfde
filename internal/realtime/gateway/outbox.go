// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gateway

import "sync"

// outFrame is an encoded frame. position is the bus position of an event
// frame and zero for every other frame type.
type outFrame struct {
	data     []byte
	position uint64
}

// outbox is the bounded queue between a session and its writer goroutine.
type outbox struct {
	mu     sync.Mutex
	items  []outFrame
	limit  int
	notify chan struct{}
}

func newOutbox(limit int) *outbox {
	return &outbox{
		items:  make([]outFrame, 0, limit),
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// push enqueues frame. When the queue is full and dropOldest is set the
// oldest frame is evicted; otherwise frame is rejected. It reports whether
// the queue was full.
func (o *outbox) push(frame outFrame, dropOldest bool) (full bool) {
	o.mu.Lock()
	if len(o.items) >= o.limit {
		if !dropOldest {
			o.mu.Unlock()
			return true
		}
		o.items[0] = outFrame{}
		o.items = o.items[1:]
		full = true
	}
	o.items = append(o.items, frame)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return full
}

// drain takes every queued frame.
func (o *outbox) drain() []outFrame {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) == 0 {
		return nil
	}
	out := o.items
	o.items = make([]outFrame, 0, o.limit)
	return out
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
