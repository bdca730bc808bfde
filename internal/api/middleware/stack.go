// SPDX-License-Identifier: MIT

// Package middleware holds the HTTP middleware of the API server.
package middleware

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ManuGH/crmrealtime/internal/log"
)

// StackConfig selects the router-wide middleware. CORS, security headers
// and rate limits are route-scoped and applied by the API server.
type StackConfig struct {
	Metrics        bool
	TracingService string // empty disables tracing
	Logging        bool
}

// NewRouter returns a chi router with the stack applied in order:
// recoverer, request id, metrics, tracing, access log. None of the wrappers
// hide http.Hijacker, so /ws can still upgrade.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer, chimw.RequestID)
	if cfg.Metrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(OTelHTTP(cfg.TracingService))
	}
	if cfg.Logging {
		r.Use(log.Middleware())
	}
	return r
}
