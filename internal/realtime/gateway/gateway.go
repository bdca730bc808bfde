// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gateway serves the realtime WebSocket endpoint: one session per
// authenticated connection, fed by a tenant-scoped bus subscription.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/crmrealtime/internal/audit"
	"github.com/ManuGH/crmrealtime/internal/auth"
	"github.com/ManuGH/crmrealtime/internal/log"
	"github.com/ManuGH/crmrealtime/internal/metrics"
	"github.com/ManuGH/crmrealtime/internal/realtime/bus"
)

// Close codes sent by the gateway.
const (
	CloseAuthFailed   websocket.StatusCode = 4401
	CloseSlowConsumer                      = websocket.StatusPolicyViolation
	CloseGoingAway                         = websocket.StatusGoingAway
)

// Overflow policies for a full send buffer.
const (
	OverflowDropOldest = "drop_oldest"
	OverflowDisconnect = "disconnect"
)

// Config tunes per-connection behaviour. Zero values take defaults.
type Config struct {
	SendBuffer     int
	OverflowPolicy string
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	DedupeWindow   time.Duration
	DedupeSize     int
	MaxPatterns    int
	// RateLimit is inbound client messages per second; RateBurst the burst.
	RateLimit      float64
	RateBurst      int
	ReadLimit      int64
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.OverflowPolicy == "" {
		c.OverflowPolicy = OverflowDropOldest
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = 60 * time.Second
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = 1024
	}
	if c.MaxPatterns <= 0 {
		c.MaxPatterns = 100
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	return c
}

// Gateway is the http.Handler for /ws.
type Gateway struct {
	cfg       Config
	bus       bus.Bus
	validator auth.Validator
	registry  *Registry
	logger    zerolog.Logger
	audit     *audit.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// New builds a gateway over b, authenticating with v.
func New(b bus.Bus, v auth.Validator, cfg Config) *Gateway {
	return &Gateway{
		cfg:       cfg.withDefaults(),
		bus:       b,
		validator: v,
		registry:  NewRegistry(),
		logger:    log.WithComponent("gateway"),
		audit:     audit.NewLogger(),
		sessions:  make(map[*session]struct{}),
	}
}

// Registry exposes the live subscriptions.
func (g *Gateway) Registry() *Registry { return g.registry }

func (g *Gateway) acceptOptions() *websocket.AcceptOptions {
	return &websocket.AcceptOptions{OriginPatterns: g.cfg.AllowedOrigins}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.WithContext(r.Context(), g.logger)

	token := auth.ExtractToken(r, true)
	id, err := g.validator.Validate(r.Context(), token)
	if err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("ws").Inc()
		g.audit.AuthFailure(r, "ws", auth.FailureReason(token))
		logger.Info().
			Str(log.FieldEvent, "ws.auth_failed").
			Str(log.FieldRemoteAddr, r.RemoteAddr).
			Msg("websocket authentication failed")
		// The close code is the only channel a browser client can read.
		conn, acceptErr := websocket.Accept(w, r, g.acceptOptions())
		if acceptErr != nil {
			return
		}
		_ = conn.Close(CloseAuthFailed, "authentication failed")
		return
	}

	conn, err := websocket.Accept(w, r, g.acceptOptions())
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "ws.accept_failed").Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(g.cfg.ReadLimit)

	s := newSession(context.WithoutCancel(r.Context()), g, conn, id, uuid.NewString())
	if !g.track(s) {
		_ = conn.Close(CloseGoingAway, "server shutting down")
		return
	}
	defer g.untrack(s)

	s.run()
}

func (g *Gateway) track(s *session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.sessions[s] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(s *session) {
	g.mu.Lock()
	delete(g.sessions, s)
	g.mu.Unlock()
	g.wg.Done()
}

// Shutdown closes every live connection with 1001 and waits for their
// teardown or ctx.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	live := make([]*session, 0, len(g.sessions))
	for s := range g.sessions {
		live = append(live, s)
	}
	g.mu.Unlock()

	for _, s := range live {
		s.stop(CloseGoingAway, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		g.logger.Info().Str(log.FieldEvent, "ws.shutdown_complete").Int("closed", len(live)).Msg("all websocket sessions closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
