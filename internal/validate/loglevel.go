// SPDX-License-Identifier: MIT
package validate

import (
	"strings"

	"github.com/rs/zerolog"
)

// LogLevel checks that level names a zerolog level the logger can be
// configured with. "disabled" and the empty level are rejected.
func (v *Validator) LogLevel(field, level string) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" || parsed == zerolog.Disabled || parsed == zerolog.NoLevel {
		v.AddError(field, "must be one of trace, debug, info, warn, error", level)
	}
}
