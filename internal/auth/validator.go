// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package auth adapts external token issuers to the realtime transports.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned for missing, malformed, expired or unknown
// tokens. Callers never learn which.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the authenticated caller. TenantID scopes everything the
// caller may receive.
type Identity struct {
	UserID   string
	TenantID string
}

// Validator turns an access token into an Identity.
type Validator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, token string) (Identity, error)

func (f ValidatorFunc) Validate(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

func (id Identity) valid() bool {
	return id.UserID != "" && id.TenantID != ""
}
