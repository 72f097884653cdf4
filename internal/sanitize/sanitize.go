// Package sanitize cleans identifiers and free text received from outside
// the process before they reach the engine or the logs.
package sanitize

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// DefaultMaxInputSize bounds a single input in bytes.
	DefaultMaxInputSize = 4096
	// EnvMaxInputSize overrides DefaultMaxInputSize.
	EnvMaxInputSize = "PITCREW_MAX_INPUT_SIZE"
)

var (
	ErrInputTooLarge = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("input contains invalid UTF-8 sequences")
	ErrEmptyID       = errors.New("identifier is empty")
)

// Input bounds free text and drops control characters other than newline,
// tab and carriage return.
func Input(input string) (string, error) {
	return clean(input, func(r rune) bool {
		return r == '\n' || r == '\t' || r == '\r'
	})
}

// ID cleans a vehicle or workflow identifier. Every control character is
// dropped, surrounding space is trimmed and the result must not be empty.
func ID(id string) (string, error) {
	out, err := clean(id, nil)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyID
	}
	return out, nil
}

// clean rejects oversized or malformed input and copies s without the
// control characters keep does not allow. s is returned as is when nothing
// needs dropping.
func clean(s string, keep func(rune) bool) (string, error) {
	if limit := maxInputSize(); len(s) > limit {
		// A truncated ID would address another vehicle.
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(s), limit)
	}

	var b *strings.Builder
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size <= 1 {
				return "", ErrInvalidUTF8
			}
		}
		drop := unicode.IsControl(r) && (keep == nil || !keep(r))
		switch {
		case drop && b == nil:
			b = &strings.Builder{}
			b.Grow(len(s))
			b.WriteString(s[:i])
		case !drop && b != nil:
			b.WriteRune(r)
		}
	}
	if b == nil {
		return s, nil
	}
	return b.String(), nil
}

func maxInputSize() int {
	if val := os.Getenv(EnvMaxInputSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxInputSize
}
