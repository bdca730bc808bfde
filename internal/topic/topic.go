// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package topic implements dot-segmented event topics and the trailing
// wildcard patterns clients subscribe with.
//
// A topic is a non-empty list of non-empty segments joined by ".", for
// example "deal.stage.updated". A pattern has the same shape but may end in
// a single "*" segment meaning "this segment and everything after it":
//
//	deal.stage.*        matches deal.stage.updated, deal.stage.created.won
//	deal.stage.updated  matches only deal.stage.updated
//	*                   matches every topic
package topic

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// Separator splits topic segments.
	Separator = "."

	// Wildcard is the trailing segment that matches the rest of a topic.
	Wildcard = "*"

	maxSegments = 16
	maxLength   = 255
)

var (
	ErrInvalidTopic   = errors.New("invalid topic")
	ErrInvalidPattern = errors.New("invalid topic pattern")
)

// Match reports whether topic matches pattern.
//
// Both are split on ".". A pattern whose last segment is "*" matches when its
// remaining segments are a prefix of the topic's segments. Any other pattern
// requires segment-for-segment equality and equal length.
func Match(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}
	if pattern == Wildcard {
		return true
	}

	if prefix, ok := strings.CutSuffix(pattern, Separator+Wildcard); ok {
		// "deal.stage" must match "deal.stage" and "deal.stage.x" but never "deal.stager".
		if topic == prefix {
			return true
		}
		return strings.HasPrefix(topic, prefix+Separator)
	}

	return pattern == topic
}

// ValidateTopic checks that t is a concrete publishable topic.
func ValidateTopic(t string) error {
	if err := validateSegments(t, false); err != nil {
		return fmt.Errorf("%w: %q: %s", ErrInvalidTopic, t, err)
	}
	return nil
}

// ValidatePattern checks that p is a well-formed subscription pattern.
func ValidatePattern(p string) error {
	if err := validateSegments(p, true); err != nil {
		return fmt.Errorf("%w: %q: %s", ErrInvalidPattern, p, err)
	}
	return nil
}

func validateSegments(s string, allowWildcard bool) error {
	if s == "" {
		return errors.New("empty")
	}
	if len(s) > maxLength {
		return fmt.Errorf("longer than %d bytes", maxLength)
	}
	segs := strings.Split(s, Separator)
	if len(segs) > maxSegments {
		return fmt.Errorf("more than %d segments", maxSegments)
	}
	for i, seg := range segs {
		switch {
		case seg == "":
			return errors.New("empty segment")
		case seg == Wildcard:
			if !allowWildcard {
				return errors.New("wildcard not allowed")
			}
			if i != len(segs)-1 {
				return errors.New("wildcard must be the last segment")
			}
		case strings.ContainsAny(seg, "* \t\r\n"):
			return fmt.Errorf("segment %q contains a reserved character", seg)
		}
	}
	return nil
}

// ParseList splits a comma-separated pattern list, trims whitespace, drops
// empty entries and duplicates, and validates every pattern.
func ParseList(raw string) ([]string, error) {
	set := NewSet()
	for _, part := range strings.Split(raw, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		if err := ValidatePattern(p); err != nil {
			return nil, err
		}
		set.Add(p)
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("%w: no patterns given", ErrInvalidPattern)
	}
	return set.Slice(), nil
}

// Set is a set of patterns. The zero value is not usable; use NewSet.
// Set is not safe for concurrent use.
type Set struct {
	patterns map[string]struct{}
}

// NewSet returns a set holding the given patterns. Patterns are not validated.
func NewSet(patterns ...string) *Set {
	s := &Set{patterns: make(map[string]struct{}, len(patterns))}
	for _, p := range patterns {
		s.Add(p)
	}
	return s
}

// Add inserts p and reports whether it was new.
func (s *Set) Add(p string) bool {
	if _, ok := s.patterns[p]; ok {
		return false
	}
	s.patterns[p] = struct{}{}
	return true
}

// Remove deletes p and reports whether it was present.
func (s *Set) Remove(p string) bool {
	if _, ok := s.patterns[p]; !ok {
		return false
	}
	delete(s.patterns, p)
	return true
}

// Has reports whether p is in the set.
func (s *Set) Has(p string) bool {
	_, ok := s.patterns[p]
	return ok
}

// MatchAny reports whether any pattern in the set matches topic.
func (s *Set) MatchAny(topic string) bool {
	if _, ok := s.patterns[topic]; ok {
		return true
	}
	for p := range s.patterns {
		if Match(p, topic) {
			return true
		}
	}
	return false
}

// Len returns the number of patterns.
func (s *Set) Len() int {
	return len(s.patterns)
}

// Slice returns the patterns in sorted order.
func (s *Set) Slice() []string {
	out := make([]string, 0, len(s.patterns))
	for p := range s.patterns {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
