// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log owns the process-wide zerolog logger and the field names and
// request-scoped helpers built on it.
package log

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultService = "crmrealtime"

// Config selects level, sink and the static fields of every entry.
type Config struct {
	Level   string    // zerolog level name; empty or unknown means info
	Output  io.Writer // defaults to os.Stdout
	Service string
	Version string
}

var base atomic.Pointer[zerolog.Logger]

// Configure replaces the global logger. main calls it once with defaults
// and again once the configuration file has been read; loggers derived
// before the second call keep their old sink.
func Configure(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	service := cfg.Service
	if service == "" {
		service = defaultService
	}

	l := zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Str("version", cfg.Version).
		Logger()
	base.Store(&l)
}

func logger() zerolog.Logger {
	if l := base.Load(); l != nil {
		return *l
	}
	Configure(Config{})
	return *base.Load()
}

// Base returns a copy of the global logger.
func Base() zerolog.Logger {
	return logger()
}

// L is Base for one-off lines: log.L().Warn()...
func L() *zerolog.Logger {
	l := logger()
	return &l
}

// WithComponent tags the global logger with a component name.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str(FieldComponent, component).Logger()
}
