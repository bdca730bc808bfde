// SPDX-License-Identifier: MIT

// Package health serves the /healthz and /readyz probes.
//
// Liveness is always 200 once the process serves HTTP. Readiness runs every
// registered Checker concurrently and answers 503 as soon as one component
// is unhealthy; degraded components keep the process in rotation.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/crmrealtime/internal/log"
	"github.com/ManuGH/crmrealtime/internal/realtime/bus"
)

// Status is the state of one component or of the whole process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse reports whether a outranks b.
func (a Status) worse(b Status) bool {
	return rank(a) > rank(b)
}

func rank(s Status) int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

const checkTimeout = 2 * time.Second

// CheckResult is what a Checker returns.
type CheckResult struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the /readyz body.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager owns the registered checkers.
type Manager struct {
	version string

	mu       sync.RWMutex
	checkers []Checker
}

func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// RegisterChecker adds c to the readiness set.
func (m *Manager) RegisterChecker(c Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, c)
	m.mu.Unlock()
}

// run executes all checkers in parallel and folds their status.
func (m *Manager) run(ctx context.Context) (Status, map[string]CheckResult) {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	if len(checkers) == 0 {
		return StatusHealthy, nil
	}

	results := make([]CheckResult, len(checkers))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, checkTimeout)
			defer cancel()
			start := time.Now()
			res := c.Check(cctx)
			res.Duration = time.Since(start).Round(time.Microsecond).String()
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	checks := make(map[string]CheckResult, len(checkers))
	for i, c := range checkers {
		checks[c.Name()] = results[i]
		if results[i].Status.worse(overall) {
			overall = results[i].Status
		}
	}
	return overall, checks
}

// Health is the liveness view. Components are only consulted when verbose.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	}
	if verbose {
		resp.Status, resp.Checks = m.run(ctx)
	}
	return resp
}

// Ready is the readiness view. verbose is accepted for symmetry with
// Health; readiness always reports its checks.
func (m *Manager) Ready(ctx context.Context, _ bool) ReadinessResponse {
	st, checks := m.run(ctx)
	return ReadinessResponse{
		Ready:     st != StatusUnhealthy,
		Status:    st,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}
}

func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	resp := m.Health(r.Context(), r.URL.Query().Get("verbose") == "true")
	answer(w, r, "health", http.StatusOK, resp.Status, resp)
}

func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	resp := m.Ready(r.Context(), r.URL.Query().Get("verbose") == "true")
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	answer(w, r, "readiness", code, resp.Status, resp)
}

func answer(w http.ResponseWriter, r *http.Request, probe string, code int, st Status, body any) {
	logger := log.WithComponentFromContext(r.Context(), "health")

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, probe+".encode_error").Msg("failed to encode probe response")
	}

	ev := logger.Debug()
	if code != http.StatusOK {
		ev = logger.Warn()
	}
	ev.Str(log.FieldEvent, probe+".checked").
		Str("status", string(st)).
		Int("code", code).
		Msg("probe answered")
}

// FileChecker verifies that a key or token file is present and non-empty.
// An empty path means the file is not configured and reports healthy.
type FileChecker struct {
	name string
	path string
}

func NewFileChecker(name, path string) *FileChecker {
	return &FileChecker{name: name, path: path}
}

func (c *FileChecker) Name() string { return c.name }

func (c *FileChecker) Check(context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured"}
	}
	info, err := os.Stat(c.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return CheckResult{Status: StatusUnhealthy, Error: "file not found", Message: c.path}
	case err != nil:
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	case info.IsDir():
		return CheckResult{Status: StatusUnhealthy, Error: "expected file, got directory", Message: c.path}
	case info.Size() == 0:
		return CheckResult{Status: StatusDegraded, Message: "file is empty"}
	}
	return CheckResult{Status: StatusHealthy, Message: c.path}
}

// BusChecker maps bus.Status onto probe status. A degraded bus keeps the
// service ready; a down bus does not.
type BusChecker struct {
	bus bus.Bus
}

func NewBusChecker(b bus.Bus) *BusChecker {
	return &BusChecker{bus: b}
}

func (c *BusChecker) Name() string { return "event_bus" }

func (c *BusChecker) Check(ctx context.Context) CheckResult {
	switch st := c.bus.Health(ctx); st {
	case bus.StatusOK:
		return CheckResult{Status: StatusHealthy, Message: string(st)}
	case bus.StatusDegraded:
		return CheckResult{Status: StatusDegraded, Message: string(st)}
	default:
		return CheckResult{Status: StatusUnhealthy, Error: "bus " + string(st)}
	}
}
