// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// ExtractToken retrieves the access token from the request.
// 1. Authorization: Bearer <token>
// 2. Query: ?token= (only when allowQuery; browsers cannot set headers on a
// WebSocket handshake)
func ExtractToken(r *http.Request, allowQuery bool) string {
	if r == nil {
		return ""
	}
	if h := r.Header.Get("Authorization"); len(h) > len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	if allowQuery {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

// FailureReason classifies a rejected token for audit records without
// revealing it.
func FailureReason(token string) string {
	if token == "" {
		return "missing_token"
	}
	return "invalid_token"
}
