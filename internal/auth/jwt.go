// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultLeeway = 30 * time.Second

// JWTConfig selects the verification key. Exactly one of Secret (HS256) or
// PublicKeyPEM (RS256) must be set.
type JWTConfig struct {
	Secret       string
	PublicKeyPEM string
	Issuer       string
	Leeway       time.Duration
}

type tenantClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// JWTValidator verifies tokens issued by the identity system.
type JWTValidator struct {
	method jwt.SigningMethod
	key    any
	opts   []jwt.ParserOption
}

// NewJWTValidator builds a validator from cfg.
func NewJWTValidator(cfg JWTConfig) (*JWTValidator, error) {
	v := &JWTValidator{}
	switch {
	case cfg.Secret != "" && cfg.PublicKeyPEM != "":
		return nil, errors.New("jwt: configure either a shared secret or a public key, not both")
	case cfg.Secret != "":
		v.method = jwt.SigningMethodHS256
		v.key = []byte(cfg.Secret)
	case cfg.PublicKeyPEM != "":
		pub, err := parseRSAPublic(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("jwt: parse public key: %w", err)
		}
		v.method = jwt.SigningMethodRS256
		v.key = pub
	default:
		return nil, errors.New("jwt: a shared secret or public key is required")
	}

	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	v.opts = []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwt.WithIssuer(cfg.Issuer))
	}
	return v, nil
}

// NewJWTValidatorFromFile reads the RS256 public key from path into cfg.
func NewJWTValidatorFromFile(path string, cfg JWTConfig) (*JWTValidator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jwt: read public key: %w", err)
	}
	cfg.PublicKeyPEM = string(raw)
	return NewJWTValidator(cfg)
}

func (v *JWTValidator) Validate(_ context.Context, raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}
	parsed, err := jwt.ParseWithClaims(raw, &tenantClaims{}, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, v.opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	claims, ok := parsed.Claims.(*tenantClaims)
	if !ok || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}

	id := Identity{UserID: claims.Subject, TenantID: claims.TenantID}
	if !id.valid() {
		return Identity{}, fmt.Errorf("%w: sub and tenant_id claims are required", ErrUnauthenticated)
	}
	return id, nil
}

func parseRSAPublic(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
