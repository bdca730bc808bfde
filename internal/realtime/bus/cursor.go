// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"fmt"
	"strconv"
	"strings"
)

const cursorPrefix = "c"

// EncodeCursor renders a position as an opaque cursor. Position 0 ("nothing
// seen yet") encodes to the empty string.
func EncodeCursor(pos uint64) string {
	if pos == 0 {
		return ""
	}
	return cursorPrefix + strconv.FormatUint(pos, 36)
}

// DecodeCursor parses a cursor produced by EncodeCursor. The empty string
// decodes to position 0.
func DecodeCursor(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	raw, ok := strings.CutPrefix(s, cursorPrefix)
	if !ok || raw == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, s)
	}
	pos, err := strconv.ParseUint(raw, 36, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, s)
	}
	return pos, nil
}
