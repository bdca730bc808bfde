// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package longpoll serves GET /api/realtime/poll for clients that cannot
// hold a WebSocket open.
package longpoll

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/crmrealtime/internal/audit"
	"github.com/ManuGH/crmrealtime/internal/auth"
	"github.com/ManuGH/crmrealtime/internal/log"
	"github.com/ManuGH/crmrealtime/internal/metrics"
	"github.com/ManuGH/crmrealtime/internal/realtime/bus"
	"github.com/ManuGH/crmrealtime/internal/telemetry"
	"github.com/ManuGH/crmrealtime/internal/topic"
)

// Config tunes the waiter. Zero values take defaults.
type Config struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	// Linger is how long to keep collecting after the first envelope.
	Linger   time.Duration
	MaxBatch int
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = 60 * time.Second
	}
	if c.MaxTimeout < c.DefaultTimeout {
		c.MaxTimeout = c.DefaultTimeout
	}
	if c.Linger <= 0 {
		c.Linger = 50 * time.Millisecond
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 100
	}
	return c
}

// Event is one entry of a poll response.
type Event struct {
	Topic    string          `json:"topic"`
	Data     json.RawMessage `json:"data"`
	Position string          `json:"position"`
}

// Response is the poll response body.
type Response struct {
	Events     []Event `json:"events"`
	NextCursor string  `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

type outcome string

const (
	outcomeEvents   outcome = "events"
	outcomeTimeout  outcome = "timeout"
	outcomeCanceled outcome = "canceled"
	outcomeClosed   outcome = "closed"
	outcomeDrained  outcome = "drained"
)

// Handler is the long-poll endpoint.
type Handler struct {
	bus       bus.Bus
	validator auth.Validator
	cfg       Config
	logger    zerolog.Logger
	audit     *audit.Logger
	tracer    trace.Tracer

	draining  chan struct{}
	drainOnce sync.Once
}

func New(b bus.Bus, v auth.Validator, cfg Config) *Handler {
	return &Handler{
		bus:       b,
		validator: v,
		cfg:       cfg.withDefaults(),
		logger:    log.WithComponent("longpoll"),
		audit:     audit.NewLogger(),
		tracer:    telemetry.Tracer("crmrealtime/longpoll"),
		draining:  make(chan struct{}),
	}
}

// Drain releases every blocked request with what it has collected so far,
// and makes later requests return immediately. Used on shutdown so clients
// reconnect elsewhere instead of waiting out their timeout.
func (h *Handler) Drain() {
	h.drainOnce.Do(func() { close(h.draining) })
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.WithContext(r.Context(), h.logger)

	// Tokens in URLs end up in proxy logs; only the header is accepted here.
	token := auth.ExtractToken(r, false)
	id, err := h.validator.Validate(r.Context(), token)
	if err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("longpoll").Inc()
		h.audit.AuthFailure(r, "longpoll", auth.FailureReason(token))
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := r.URL.Query()
	patterns, err := topic.ParseList(q.Get("topics"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid topics")
		return
	}
	rawCursor := q.Get("cursor")
	after, err := bus.DecodeCursor(rawCursor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cursor")
		return
	}
	timeout, err := h.parseTimeout(q.Get("timeout"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timeout")
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "longpoll.wait",
		trace.WithAttributes(telemetry.LongPollAttributes(id.TenantID, patterns, timeout.Milliseconds())...))
	defer span.End()

	sub, err := h.bus.Subscribe(ctx, bus.Filter{TenantID: id.TenantID, Patterns: patterns, After: after})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, bus.ErrBusUnavailable) || errors.Is(err, bus.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "event bus unavailable")
			return
		}
		logger.Error().Err(err).Str(log.FieldEvent, "longpoll.subscribe_failed").Msg("bus subscribe failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer func() { _ = sub.Close() }()

	metrics.LongPollWaiters.Inc()
	start := time.Now()
	batch, out := h.collect(ctx, sub, timeout)
	metrics.LongPollWaiters.Dec()
	metrics.LongPollDuration.WithLabelValues(string(out)).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String(telemetry.LongPollOutcomeKey, string(out)),
		attribute.Int(telemetry.LongPollEventsKey, len(batch.events)),
	)

	switch out {
	case outcomeCanceled:
		// The client is gone; nobody reads a response.
		return
	case outcomeClosed:
		writeError(w, http.StatusServiceUnavailable, "event bus unavailable")
		return
	}

	resp := Response{Events: make([]Event, 0, len(batch.events)), NextCursor: rawCursor, HasMore: batch.hasMore}
	for _, env := range batch.events {
		resp.Events = append(resp.Events, Event{Topic: env.Topic, Data: env.Payload, Position: env.Cursor()})
	}
	if batch.last > after {
		resp.NextCursor = bus.EncodeCursor(batch.last)
	}

	logger.Debug().
		Str(log.FieldEvent, "longpoll.returned").
		Str(log.FieldTenantID, id.TenantID).
		Int("events", len(resp.Events)).
		Str(log.FieldCursor, resp.NextCursor).
		Msg("long-poll completed")
	writeJSON(w, http.StatusOK, resp)
}

// parseTimeout reads whole seconds, clamped to [1s, MaxTimeout].
func (h *Handler) parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return h.cfg.DefaultTimeout, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	d := time.Duration(secs) * time.Second
	if d < time.Second {
		d = time.Second
	}
	if d > h.cfg.MaxTimeout {
		d = h.cfg.MaxTimeout
	}
	return d, nil
}

type batch struct {
	events  []bus.Envelope
	last    uint64 // highest consumed position, duplicates included
	hasMore bool
}

// collect blocks for the first envelope, then lingers for more.
func (h *Handler) collect(ctx context.Context, sub bus.Subscription, timeout time.Duration) (batch, outcome) {
	var b batch
	seen := make(map[string]struct{})
	take := func(env bus.Envelope) {
		if env.Position > b.last {
			b.last = env.Position
		}
		if _, dup := seen[env.IdempotencyKey]; dup {
			return
		}
		seen[env.IdempotencyKey] = struct{}{}
		b.events = append(b.events, env)
	}

	wait := time.NewTimer(timeout)
	defer wait.Stop()
	select {
	case <-ctx.Done():
		return b, outcomeCanceled
	case <-wait.C:
		return b, outcomeTimeout
	case <-h.draining:
		return b, outcomeDrained
	case env, ok := <-sub.C():
		if !ok {
			return b, outcomeClosed
		}
		take(env)
	}

	linger := time.NewTimer(h.cfg.Linger)
	defer linger.Stop()
	for len(b.events) < h.cfg.MaxBatch {
		select {
		case <-ctx.Done():
			return b, outcomeCanceled
		case <-linger.C:
			b.hasMore = len(sub.C()) > 0
			return b, outcomeEvents
		case <-h.draining:
			b.hasMore = len(sub.C()) > 0
			return b, outcomeEvents
		case env, ok := <-sub.C():
			if !ok {
				return b, outcomeEvents
			}
			take(env)
		}
	}
	b.hasMore = true
	return b, outcomeEvents
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
