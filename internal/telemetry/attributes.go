// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by every span the service emits.
const (
	BusBackendKey  = "bus.backend"
	BusPositionKey = "bus.position"

	EventTopicKey          = "event.topic"
	EventIDKey             = "event.id"
	EventIdempotencyKeyKey = "event.idempotency_key"

	TenantIDKey = "tenant.id"

	LongPollPatternsKey = "longpoll.patterns"
	LongPollTimeoutKey  = "longpoll.timeout_ms"
	LongPollEventsKey   = "longpoll.events"
	LongPollOutcomeKey  = "longpoll.outcome"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// PublishAttributes describes an event entering the bus.
func PublishAttributes(backend, topic, tenantID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if backend != "" {
		attrs = append(attrs, attribute.String(BusBackendKey, backend))
	}
	attrs = append(attrs,
		attribute.String(EventTopicKey, topic),
		attribute.String(TenantIDKey, tenantID),
	)
	return attrs
}

// EnvelopeAttributes describes an envelope after the backend stamped it.
func EnvelopeAttributes(id, idempotencyKey string, position uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(EventIDKey, id),
		attribute.String(EventIdempotencyKeyKey, idempotencyKey),
		attribute.Int64(BusPositionKey, int64(position)),
	}
}

// LongPollAttributes describes a long-poll wait.
func LongPollAttributes(tenantID string, patterns []string, timeoutMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TenantIDKey, tenantID),
		attribute.StringSlice(LongPollPatternsKey, patterns),
		attribute.Int64(LongPollTimeoutKey, timeoutMS),
	}
}

// ErrorAttributes classifies a failed operation.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
