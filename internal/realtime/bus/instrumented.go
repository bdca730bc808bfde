// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/crmrealtime/internal/log"
	"github.com/ManuGH/crmrealtime/internal/metrics"
	"github.com/ManuGH/crmrealtime/internal/telemetry"
)

// instrumentedBus adds tracing, metrics and failure logging around Publish.
type instrumentedBus struct {
	Bus
	backend string
	tracer  trace.Tracer
}

func instrument(b Bus, backend string) Bus {
	return &instrumentedBus{
		Bus:     b,
		backend: backend,
		tracer:  telemetry.Tracer("crmrealtime/bus"),
	}
}

func (b *instrumentedBus) Publish(ctx context.Context, ev Event) (Envelope, error) {
	ctx, span := b.tracer.Start(ctx, "bus.publish",
		trace.WithAttributes(telemetry.PublishAttributes(b.backend, ev.Topic, ev.TenantID)...))
	defer span.End()

	env, err := b.Bus.Publish(ctx, ev)
	if err != nil {
		reason := failureReason(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		span.SetAttributes(telemetry.ErrorAttributes(reason)...)
		metrics.IncPublishFailure(b.backend, reason)
		logger := log.WithComponentFromContext(ctx, "bus")
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "bus.publish_failed").
			Str(log.FieldBackend, b.backend).
			Str(log.FieldTopic, ev.Topic).
			Str(log.FieldTenantID, ev.TenantID).
			Str("reason", reason).
			Msg("publish rejected")
		return Envelope{}, err
	}

	span.SetAttributes(telemetry.EnvelopeAttributes(env.ID, env.IdempotencyKey, env.Position)...)
	metrics.BusPublishedTotal.WithLabelValues(b.backend).Inc()
	return env, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEvent):
		return "invalid_event"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrBusUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// subscriberCounter is implemented by backends that track live subscriptions.
type subscriberCounter interface {
	subscribers() int
}

func (b *memoryBus) subscribers() int { return b.hub.len() }
func (b *redisBus) subscribers() int  { return b.hub.len() }

func (b *instrumentedBus) subscribers() int {
	if c, ok := b.Bus.(subscriberCounter); ok {
		return c.subscribers()
	}
	return -1
}

// SubscriberCount reports the live subscriptions of b, or -1 when the
// backend does not track them.
func SubscriberCount(b Bus) int {
	if c, ok := b.(subscriberCounter); ok {
		return c.subscribers()
	}
	return -1
}
