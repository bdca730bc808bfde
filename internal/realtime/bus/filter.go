// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"fmt"
	"strings"

	"github.com/ManuGH/crmrealtime/internal/topic"
)

// Filter is the subscription predicate: an envelope matches when it belongs
// to TenantID, its topic matches any of Patterns, and its position is after
// After. A filter with no patterns matches nothing.
type Filter struct {
	TenantID string
	Patterns []string
	// After is the resume position; 0 subscribes to live envelopes only.
	After uint64
}

// Validate reports whether the filter can be used for a subscription.
func (f Filter) Validate() error {
	if strings.TrimSpace(f.TenantID) == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidFilter)
	}
	for _, p := range f.Patterns {
		if err := topic.ValidatePattern(p); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidFilter, err)
		}
	}
	return nil
}

// Match is the predicate form of the filter.
func (f Filter) Match(env Envelope) bool {
	if env.TenantID != f.TenantID || env.Position <= f.After {
		return false
	}
	for _, p := range f.Patterns {
		if topic.Match(p, env.Topic) {
			return true
		}
	}
	return false
}
