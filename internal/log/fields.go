// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldConnectionID  = "connection_id"
	FieldTenantID      = "tenant_id"
	FieldUserID        = "user_id"

	// Event routing fields
	FieldEvent          = "event"
	FieldComponent      = "component"
	FieldTopic          = "topic"
	FieldPatterns       = "patterns"
	FieldEnvelopeID     = "envelope_id"
	FieldIdempotencyKey = "idempotency_key"
	FieldPosition       = "position"
	FieldCursor         = "cursor"

	// Transport fields
	FieldBackend    = "backend"
	FieldTransport  = "transport"
	FieldRemoteAddr = "remote_addr"
	FieldCloseCode  = "close_code"
	FieldPath       = "path"
)
