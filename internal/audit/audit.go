// SPDX-License-Identifier: MIT

// Package audit writes structured audit records for security-relevant
// events: rejected credentials, token file changes and rate limiting.
// Records follow the WHO/WHAT/WHEN pattern and share the process logger.
package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/crmrealtime/internal/log"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventAuthFailure        EventType = "auth.failure"
	EventTokensReloaded     EventType = "auth.tokens_reloaded"
	EventTokensReloadFailed EventType = "auth.tokens_reload_failed"
	EventRateLimited        EventType = "api.ratelimit"
	EventClientRateLimited  EventType = "ws.ratelimit"
)

// Results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// Event represents a structured audit event.
type Event struct {
	Timestamp  time.Time
	Type       EventType
	Actor      string // WHO: user id, client IP, or "system"
	Action     string // WHAT: human-readable action description
	Resource   string // endpoint or file affected
	Result     string
	TenantID   string
	RemoteAddr string
	UserAgent  string
	RequestID  string
	Details    map[string]string
}

// Logger provides audit logging functionality.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates an audit logger under the "audit" component.
func NewLogger() *Logger {
	return newLogger(log.WithComponent("audit"))
}

func newLogger(base zerolog.Logger) *Logger {
	return &Logger{logger: base.With().Str("log_type", "audit").Logger()}
}

// Log writes an audit event to the audit log.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ev := l.logger.Info().
		Time("timestamp", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("resource", event.Resource).
		Str("result", event.Result)

	if event.TenantID != "" {
		ev.Str(log.FieldTenantID, event.TenantID)
	}
	if event.RemoteAddr != "" {
		ev.Str(log.FieldRemoteAddr, event.RemoteAddr)
	}
	if event.UserAgent != "" {
		ev.Str("user_agent", event.UserAgent)
	}
	if event.RequestID != "" {
		ev.Str(log.FieldRequestID, event.RequestID)
	}
	for key, value := range event.Details {
		ev.Str(key, value)
	}

	ev.Msg("audit event")
}

// LogRequest fills the request metadata of event from r before logging it.
func (l *Logger) LogRequest(r *http.Request, event Event) {
	if event.RemoteAddr == "" {
		event.RemoteAddr = r.RemoteAddr
	}
	if event.UserAgent == "" {
		event.UserAgent = r.UserAgent()
	}
	if event.RequestID == "" {
		event.RequestID = log.RequestIDFromContext(r.Context())
	}
	if event.Actor == "" {
		event.Actor = event.RemoteAddr
	}
	l.Log(event)
}

// AuthFailure records a rejected credential on channel ("ws" or "longpoll").
// reason is "missing_token" or "invalid_token"; the token itself is never logged.
func (l *Logger) AuthFailure(r *http.Request, channel, reason string) {
	l.LogRequest(r, Event{
		Type:     EventAuthFailure,
		Action:   "authentication failed",
		Resource: r.URL.Path,
		Result:   ResultDenied,
		Details: map[string]string{
			"channel": channel,
			"reason":  reason,
		},
	})
}

// TokensReloaded records a successful static token file reload.
func (l *Logger) TokensReloaded(path string, count int) {
	l.Log(Event{
		Type:     EventTokensReloaded,
		Actor:    "system",
		Action:   "reloaded static tokens",
		Resource: path,
		Result:   ResultSuccess,
		Details:  map[string]string{"count": strconv.Itoa(count)},
	})
}

// TokensReloadFailed records a rejected token file; the previous tokens stay active.
func (l *Logger) TokensReloadFailed(path string, err error) {
	l.Log(Event{
		Type:     EventTokensReloadFailed,
		Actor:    "system",
		Action:   "rejected static token file",
		Resource: path,
		Result:   ResultFailure,
		Details:  map[string]string{"error": err.Error()},
	})
}

// RateLimited records an HTTP request refused by the per-IP limiter.
func (l *Logger) RateLimited(r *http.Request) {
	l.LogRequest(r, Event{
		Type:     EventRateLimited,
		Action:   "rate limit exceeded",
		Resource: r.URL.Path,
		Result:   ResultDenied,
	})
}

// ClientRateLimited records a websocket client exceeding its message rate.
func (l *Logger) ClientRateLimited(tenantID, userID, connID string) {
	l.Log(Event{
		Type:     EventClientRateLimited,
		Actor:    userID,
		Action:   "client message rate exceeded",
		Resource: "/ws",
		Result:   ResultDenied,
		TenantID: tenantID,
		Details:  map[string]string{log.FieldConnectionID: connID},
	})
}
