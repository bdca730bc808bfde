// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/ManuGH/crmrealtime/internal/audit"
)

// Limit is a sliding-window request budget per key.
type Limit struct {
	Requests int
	Window   time.Duration
	// Key defaults to the client IP.
	Key httprate.KeyFunc
}

// RateLimit enforces l with httprate. Refused requests are audited and get
// a JSON 429 with Retry-After set to the window length.
func RateLimit(l Limit) func(http.Handler) http.Handler {
	key := l.Key
	if key == nil {
		key = httprate.KeyByIP
	}
	retryAfter := strconv.Itoa(max(1, int(l.Window.Seconds())))
	auditLog := audit.NewLogger()

	return httprate.Limit(l.Requests, l.Window,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			auditLog.RateLimited(r)
			w.Header().Set("Retry-After", retryAfter)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	)
}

// PollRateLimit caps long-poll requests per client IP per minute.
// perMinute <= 0 disables the limit.
func PollRateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return RateLimit(Limit{Requests: perMinute, Window: time.Minute})
}
