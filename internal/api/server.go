// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api assembles the HTTP surface of the realtime service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/crmrealtime/internal/api/middleware"
	"github.com/ManuGH/crmrealtime/internal/health"
	"github.com/ManuGH/crmrealtime/internal/realtime/bus"
)

const busHealthTimeout = 2 * time.Second

// Config shapes the router.
type Config struct {
	// AllowedOrigins enables CORS on /api/realtime for these origins.
	AllowedOrigins []string
	// PollRateLimit is long-poll requests per minute per IP; 0 disables.
	PollRateLimit int
	// MountMetrics serves /metrics on this router.
	MountMetrics bool
	// TracingService names the otelhttp server spans; empty disables tracing.
	TracingService string
}

// Deps are the handlers and collaborators the router serves.
type Deps struct {
	Bus      bus.Bus
	Backend  string
	Gateway  http.Handler
	LongPoll http.Handler
	Health   *health.Manager
}

// Server is the HTTP API of the realtime service.
type Server struct {
	cfg  Config
	deps Deps
}

// New creates a Server.
func New(cfg Config, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		Metrics:        true,
		TracingService: s.cfg.TracingService,
		Logging:        true,
	})
	r.NotFound(writeNotFound)
	r.MethodNotAllowed(writeMethodNotAllowed)

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	if s.cfg.MountMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/ws", s.deps.Gateway.ServeHTTP)

	r.Route("/api/realtime", func(r chi.Router) {
		r.Use(middleware.SecurityHeaders)
		if len(s.cfg.AllowedOrigins) > 0 {
			r.Use(middleware.CORS(s.cfg.AllowedOrigins))
		}
		r.With(middleware.PollRateLimit(s.cfg.PollRateLimit)).Get("/poll", s.deps.LongPoll.ServeHTTP)
		r.Get("/health", s.handleBusHealth)
	})

	return r
}

type busHealthResponse struct {
	Status  bus.Status `json:"status"`
	Backend string     `json:"backend"`
}

// handleBusHealth reports the bus status: 200 for ok and degraded, 503 for down.
func (s *Server) handleBusHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), busHealthTimeout)
	defer cancel()

	st := s.deps.Bus.Health(ctx)
	code := http.StatusOK
	if st == bus.StatusDown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, busHealthResponse{Status: st, Backend: s.deps.Backend})
}

// MetricsHandler serves Prometheus metrics on a dedicated listener.
func MetricsHandler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	return r
}
