// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package publish lets domain code put events on the realtime bus, either
// in-process through an Emitter or from Kafka through a KafkaBridge.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/crmrealtime/internal/realtime/bus"
	"github.com/ManuGH/crmrealtime/internal/telemetry"
	"github.com/ManuGH/crmrealtime/internal/topic"
)

// Signal is a domain change described by entity, optional aspect and action,
// e.g. deal / stage / updated.
type Signal struct {
	Entity         string
	Aspect         string
	Action         string
	TenantID       string
	Region         string
	Compliance     map[string]string
	IdempotencyKey string
	Payload        any
}

// Topic returns the lower-cased entity[.aspect].action topic of the signal.
func (s Signal) Topic() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.Entity, s.Aspect, s.Action} {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, topic.Separator)
}

// Emitter publishes Signals on a bus.
type Emitter struct {
	bus           bus.Bus
	defaultRegion string
	tracer        trace.Tracer
}

// NewEmitter returns an Emitter. defaultRegion applies to signals without a region.
func NewEmitter(b bus.Bus, defaultRegion string) *Emitter {
	return &Emitter{
		bus:           b,
		defaultRegion: defaultRegion,
		tracer:        telemetry.Tracer("crmrealtime/publish"),
	}
}

// Emit validates and publishes sig. Bus errors, including
// bus.ErrBusUnavailable, are returned unchanged.
func (e *Emitter) Emit(ctx context.Context, sig Signal) (bus.Envelope, error) {
	name := sig.Topic()
	ctx, span := e.tracer.Start(ctx, "publish.emit", trace.WithAttributes(
		attribute.String(telemetry.EventTopicKey, name),
		attribute.String(telemetry.TenantIDKey, sig.TenantID),
	))
	defer span.End()

	if sig.Entity == "" || sig.Action == "" {
		err := fmt.Errorf("%w: entity and action are required", bus.ErrInvalidEvent)
		span.SetStatus(codes.Error, err.Error())
		return bus.Envelope{}, err
	}
	if err := topic.ValidateTopic(name); err != nil {
		err = fmt.Errorf("%w: %w", bus.ErrInvalidEvent, err)
		span.SetStatus(codes.Error, err.Error())
		return bus.Envelope{}, err
	}

	var payload json.RawMessage
	switch p := sig.Payload.(type) {
	case nil:
	case json.RawMessage:
		payload = p
	case []byte:
		payload = p
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			err = fmt.Errorf("%w: marshal payload: %w", bus.ErrInvalidEvent, err)
			span.SetStatus(codes.Error, err.Error())
			return bus.Envelope{}, err
		}
		payload = raw
	}

	region := sig.Region
	if region == "" {
		region = e.defaultRegion
	}

	env, err := e.bus.Publish(ctx, bus.Event{
		Topic:          name,
		Payload:        payload,
		TenantID:       sig.TenantID,
		Region:         region,
		Compliance:     sig.Compliance,
		IdempotencyKey: sig.IdempotencyKey,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return bus.Envelope{}, err
	}
	span.SetAttributes(attribute.String(telemetry.EventIDKey, env.ID))
	return env, nil
}
