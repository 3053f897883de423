package utils

import (
	"fmt"
	"strings"
	"unicode"
)

// NormalizePhone canonicalizes a dialable phone number: formatting
// characters are stripped and a leading + is preserved. It does not guess
// country codes; national numbers pass through as bare digits.
func NormalizePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("phone number is empty")
	}

	plus := strings.HasPrefix(trimmed, "+")

	var digits strings.Builder
	for _, r := range trimmed {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting only
		default:
			return "", fmt.Errorf("invalid character %q in phone number", r)
		}
	}

	n := digits.Len()
	if n < 7 || n > 15 {
		return "", fmt.Errorf("phone number must have 7 to 15 digits, got %d", n)
	}

	if plus {
		return "+" + digits.String(), nil
	}
	return digits.String(), nil
}
