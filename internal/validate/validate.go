// SPDX-License-Identifier: MIT

// Package validate collects field errors for configuration checks.
//
// A Validator never stops at the first problem: callers run every check and
// report all failures at once through Err.
package validate

import (
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Error is one failed field.
type Error struct {
	Field   string
	Value   any
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// ValidationError carries every field error of one validation run.
type ValidationError struct {
	errors []Error
}

func (e ValidationError) Errors() []Error { return e.errors }

func (e ValidationError) Error() string {
	msgs := make([]string, len(e.errors))
	for i, fe := range e.errors {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validator accumulates field errors.
type Validator struct {
	errors []Error
}

func New() *Validator {
	return &Validator{}
}

// AddError records a failure for field.
func (v *Validator) AddError(field, message string, value any) {
	v.errors = append(v.errors, Error{Field: field, Value: value, Message: message})
}

func (v *Validator) failf(field string, value any, format string, args ...any) {
	v.AddError(field, fmt.Sprintf(format, args...), value)
}

func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

// Errors returns the accumulated failures in the order they were recorded.
func (v *Validator) Errors() []Error { return v.errors }

// Err returns nil when valid, otherwise a ValidationError holding a copy
// of the failures.
func (v *Validator) Err() error {
	if v.IsValid() {
		return nil
	}
	return ValidationError{errors: slices.Clone(v.errors)}
}

// ListenAddr checks a host:port listen address. The host may be empty.
func (v *Validator) ListenAddr(field, addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		v.failf(field, addr, "invalid listen address: %v", err)
		return
	}
	if strings.ContainsAny(host, " /") {
		v.failf(field, addr, "invalid host %q", host)
		return
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		v.failf(field, addr, "port must be between 0 and 65535, got %q", port)
	}
}

// Distinct rejects value when it equals other; otherField names the field
// it collides with.
func (v *Validator) Distinct(field, value, otherField, other string) {
	if value != "" && value == other {
		v.failf(field, value, "must differ from %s", otherField)
	}
}

func (v *Validator) Range(field string, value, minVal, maxVal int) {
	if value < minVal || value > maxVal {
		v.failf(field, value, "value must be between %d and %d, got %d", minVal, maxVal, value)
	}
}

func (v *Validator) NotEmpty(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "value cannot be empty", value)
	}
}

// NotEmptyList requires at least one non-blank entry.
func (v *Validator) NotEmptyList(field string, values []string) {
	if !slices.ContainsFunc(values, func(s string) bool { return strings.TrimSpace(s) != "" }) {
		v.AddError(field, "at least one value is required", values)
	}
}

func (v *Validator) OneOf(field, value string, allowed []string) {
	if !slices.Contains(allowed, value) {
		v.failf(field, value, "value must be one of %v, got %q", allowed, value)
	}
}

func (v *Validator) Positive(field string, value int) {
	if value <= 0 {
		v.failf(field, value, "value must be positive, got %d", value)
	}
}

// PositiveFloat is Positive for rates.
func (v *Validator) PositiveFloat(field string, value float64) {
	if value <= 0 {
		v.failf(field, value, "value must be positive, got %g", value)
	}
}

// PositiveSize is Positive for byte sizes.
func (v *Validator) PositiveSize(field string, value int64) {
	if value <= 0 {
		v.failf(field, value, "value must be positive, got %d", value)
	}
}

func (v *Validator) NonNegative(field string, value int) {
	if value < 0 {
		v.failf(field, value, "value cannot be negative, got %d", value)
	}
}

func (v *Validator) PositiveDuration(field string, d time.Duration) {
	if d <= 0 {
		v.failf(field, d, "duration must be positive, got %s", d)
	}
}

func (v *Validator) NonNegativeDuration(field string, d time.Duration) {
	if d < 0 {
		v.failf(field, d, "duration cannot be negative, got %s", d)
	}
}

// AtLeast requires d >= floor, where floor is the value of floorField.
func (v *Validator) AtLeast(field string, d time.Duration, floorField string, floor time.Duration) {
	if d < floor {
		v.failf(field, d, "must not be lower than %s (%s), got %s", floorField, floor, d)
	}
}

// Fraction checks f is within [0, 1].
func (v *Validator) Fraction(field string, f float64) {
	if f < 0 || f > 1 {
		v.failf(field, f, "value must be between 0 and 1, got %g", f)
	}
}

// File checks that path names an existing regular file without ".."
// components.
func (v *Validator) File(field, path string) {
	switch {
	case strings.TrimSpace(path) == "":
		v.AddError(field, "file path cannot be empty", path)
		return
	case slices.Contains(strings.Split(path, string(os.PathSeparator)), ".."):
		v.AddError(field, "path contains traversal sequences (..)", path)
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		v.failf(field, path, "cannot access file: %v", err)
		return
	}
	if info.IsDir() {
		v.AddError(field, "path is a directory", path)
	}
}
