// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gateway

import "encoding/json"

// Client message types.
const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgPing        = "ping"
)

// Server frame types.
const (
	frameEvent        = "event"
	framePong         = "pong"
	frameError        = "error"
	frameSubscribed   = "subscribed"
	frameUnsubscribed = "unsubscribed"
)

// Error frame reasons.
const (
	reasonMalformed       = "malformed_message"
	reasonUnknownType     = "unknown_type"
	reasonInvalidTopic    = "invalid_topic"
	reasonMissingTopics   = "missing_topics"
	reasonTooManyPatterns = "too_many_patterns"
	reasonRateLimited     = "rate_limited"
	reasonBinary          = "binary_not_supported"
)

type clientMessage struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

type eventFrame struct {
	Type   string          `json:"type"`
	Topic  string          `json:"topic"`
	Data   json.RawMessage `json:"data"`
	Cursor string          `json:"cursor"`
}

type ackFrame struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

type errorFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type pongFrame struct {
	Type string `json:"type"`
}
