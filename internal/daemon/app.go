// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/crmrealtime/internal/log"
)

// Worker is a background subsystem owned by the App. Run must return when
// ctx is cancelled; a nil return on cancellation is a clean stop.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// App owns the long-lived runtime lifecycle (ingest bridge, token watcher)
// and delegates server management to Manager.
type App struct {
	logger  zerolog.Logger
	manager Manager
	workers []Worker
}

// NewApp creates a new App orchestrator.
func NewApp(logger zerolog.Logger, manager Manager, workers ...Worker) *App {
	return &App{
		logger:  logger,
		manager: manager,
		workers: workers,
	}
}

// Run starts the workers and the servers and blocks until ctx is cancelled
// or any of them fails. A failing worker stops the whole process.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, w := range a.workers {
		g.Go(func() error {
			a.logger.Debug().Str("worker", w.Name).Msg("worker started")
			if err := w.Run(ctx); err != nil {
				a.logger.Error().
					Err(err).
					Str(log.FieldEvent, "worker.failed").
					Str("worker", w.Name).
					Msg("worker failed, stopping daemon")
				return fmt.Errorf("%s: %w", w.Name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return a.manager.Start(ctx)
	})

	return g.Wait()
}
