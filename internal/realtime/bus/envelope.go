// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/ManuGH/crmrealtime/internal/topic"
)

// derivedKeyBucket is the timestamp granularity folded into derived
// idempotency keys: identical publishes inside one bucket share a key.
const derivedKeyBucket = time.Second

// Event is what a domain collaborator hands to Publish.
type Event struct {
	Topic    string
	Payload  json.RawMessage
	TenantID string
	Region   string
	// Compliance carries opaque flags (consent markers etc.) through unmodified.
	Compliance map[string]string
	// IdempotencyKey is optional; a key is derived when empty.
	IdempotencyKey string
}

// Envelope is the routed unit flowing through the bus. It is created once per
// publish and must be treated as read-only by every consumer, including its
// Payload bytes and Compliance map.
type Envelope struct {
	ID             string            `json:"id"`
	Topic          string            `json:"topic"`
	Payload        json.RawMessage   `json:"payload"`
	TenantID       string            `json:"tenant_id"`
	Region         string            `json:"region,omitempty"`
	Compliance     map[string]string `json:"compliance,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	CreatedAt      time.Time         `json:"created_at"`

	// Position is assigned by the backend before the envelope becomes
	// visible to subscribers. Positions increase in publish order.
	Position uint64 `json:"-"`
}

// Cursor returns the opaque cursor for the envelope's position.
func (e Envelope) Cursor() string {
	return EncodeCursor(e.Position)
}

// buildEnvelope validates ev and returns an unstamped envelope. Payload and
// Compliance are copied so later mutation by the caller cannot leak in.
func buildEnvelope(ev Event, now time.Time) (Envelope, error) {
	if strings.TrimSpace(ev.TenantID) == "" {
		return Envelope{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidEvent)
	}
	if err := topic.ValidateTopic(ev.Topic); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	payload := json.RawMessage("null")
	if len(ev.Payload) > 0 {
		if !json.Valid(ev.Payload) {
			return Envelope{}, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidEvent)
		}
		payload = append(json.RawMessage(nil), ev.Payload...)
	}

	created := now.UTC()
	key := strings.TrimSpace(ev.IdempotencyKey)
	if key == "" {
		key = deriveIdempotencyKey(ev.Topic, ev.TenantID, payload, created)
	}

	var compliance map[string]string
	if len(ev.Compliance) > 0 {
		compliance = maps.Clone(ev.Compliance)
	}

	return Envelope{
		ID:             uuid.NewString(),
		Topic:          ev.Topic,
		Payload:        payload,
		TenantID:       ev.TenantID,
		Region:         ev.Region,
		Compliance:     compliance,
		IdempotencyKey: key,
		CreatedAt:      created,
	}, nil
}

// deriveIdempotencyKey hashes topic, tenant, payload and the timestamp bucket.
func deriveIdempotencyKey(topicName, tenantID string, payload []byte, at time.Time) string {
	d := xxhash.New()
	_, _ = d.WriteString(topicName)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(tenantID)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(payload)
	_, _ = d.Write([]byte{0})

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.Truncate(derivedKeyBucket).UnixNano()))
	_, _ = d.Write(ts[:])

	return fmt.Sprintf("d:%016x", d.Sum64())
}
