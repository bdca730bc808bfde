// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/crmrealtime/internal/audit"
	"github.com/ManuGH/crmrealtime/internal/log"
)

const reloadDebounce = 250 * time.Millisecond

// StaticTokenFile is the YAML layout of a static token file:
//
//	tokens:
//	  - token: dev-alice
//	    user: alice
//	    tenant: acme
type StaticTokenFile struct {
	Tokens []StaticToken `yaml:"tokens"`
}

type StaticToken struct {
	Token  string `yaml:"token"`
	User   string `yaml:"user"`
	Tenant string `yaml:"tenant"`
}

// StaticValidator maps fixed tokens to identities. Meant for development
// and tests; tokens are held only as sha256 digests.
type StaticValidator struct {
	path   string
	tokens atomic.Pointer[map[[sha256.Size]byte]Identity]
	logger zerolog.Logger
	audit  *audit.Logger
}

// NewStaticValidator loads path. The file is re-read on change while Watch runs.
func NewStaticValidator(path string) (*StaticValidator, error) {
	v := &StaticValidator{path: path, logger: log.WithComponent("auth"), audit: audit.NewLogger()}
	if err := v.Reload(); err != nil {
		return nil, err
	}
	return v, nil
}

// NewStaticValidatorFromTokens builds a validator without a backing file.
func NewStaticValidatorFromTokens(tokens []StaticToken) (*StaticValidator, error) {
	m, err := indexTokens(tokens)
	if err != nil {
		return nil, err
	}
	v := &StaticValidator{logger: log.WithComponent("auth")}
	v.tokens.Store(&m)
	return v, nil
}

func (v *StaticValidator) Validate(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	m := v.tokens.Load()
	if m == nil {
		return Identity{}, ErrUnauthenticated
	}
	id, ok := (*m)[sha256.Sum256([]byte(token))]
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// Len reports the number of loaded tokens.
func (v *StaticValidator) Len() int {
	if m := v.tokens.Load(); m != nil {
		return len(*m)
	}
	return 0
}

// Reload re-reads the token file. On error the previous set stays active.
func (v *StaticValidator) Reload() error {
	raw, err := os.ReadFile(v.path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var file StaticTokenFile
	if err := dec.Decode(&file); err != nil {
		return fmt.Errorf("parse token file %s: %w", v.path, err)
	}
	m, err := indexTokens(file.Tokens)
	if err != nil {
		return fmt.Errorf("token file %s: %w", v.path, err)
	}
	v.tokens.Store(&m)
	v.logger.Info().
		Str(log.FieldEvent, "auth.tokens_loaded").
		Str("path", v.path).
		Int("count", len(m)).
		Msg("static tokens loaded")
	return nil
}

func indexTokens(tokens []StaticToken) (map[[sha256.Size]byte]Identity, error) {
	m := make(map[[sha256.Size]byte]Identity, len(tokens))
	for i, t := range tokens {
		id := Identity{UserID: t.User, TenantID: t.Tenant}
		if t.Token == "" || !id.valid() {
			return nil, fmt.Errorf("entry %d: token, user and tenant are required", i)
		}
		key := sha256.Sum256([]byte(t.Token))
		if _, dup := m[key]; dup {
			return nil, fmt.Errorf("entry %d: duplicate token", i)
		}
		m[key] = id
	}
	return m, nil
}

// Watch reloads the token file whenever it changes until ctx is done. The
// parent directory is watched so editors that replace the file are seen.
func (v *StaticValidator) Watch(ctx context.Context) error {
	if v.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(v.path)); err != nil {
		return fmt.Errorf("watch token file: %w", err)
	}
	v.logger.Info().Str(log.FieldEvent, "auth.watcher_started").Str("path", v.path).Msg("watching token file")

	target := filepath.Clean(v.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := v.Reload(); err != nil {
					v.audit.TokensReloadFailed(v.path, err)
					v.logger.Error().Err(err).
						Str(log.FieldEvent, "auth.reload_failed").
						Msg("token file reload failed, keeping previous tokens")
					return
				}
				v.audit.TokensReloaded(v.path, v.Len())
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			v.logger.Error().Err(err).Str(log.FieldEvent, "auth.watcher_error").Msg("token file watcher error")
		}
	}
}
