// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import "errors"

var (
	// ErrBusUnavailable is returned when the backend cannot accept a publish
	// or serve a subscription (e.g. broker connection down). Callers decide
	// whether to retry; the bus never retries on its own.
	ErrBusUnavailable = errors.New("event bus unavailable")

	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("event bus closed")

	// ErrInvalidEvent classifies publishes rejected before reaching the backend.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidFilter classifies rejected subscription filters.
	ErrInvalidFilter = errors.New("invalid subscription filter")

	// ErrInvalidCursor is returned when a cursor string cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor")
)
