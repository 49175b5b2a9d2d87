package calls

import (
	"fmt"
	"strings"
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// NormalizePhoneNumber keeps digits and a single leading "+".
// Anything else (spaces, dashes, parens, dots) is dropped.
func NormalizePhoneNumber(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhoneNumber)
	}

	var b strings.Builder
	b.Grow(len(raw))
	digits := 0
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}

	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return "", fmt.Errorf("%w: %d digits, want %d-%d", ErrInvalidPhoneNumber, digits, minPhoneDigits, maxPhoneDigits)
	}
	return b.String(), nil
}
