package calls

import (
	"fmt"
	"strings"
)

// NormalizeE164 strips common formatting and validates the result as E.164:
// a leading '+' followed by 8 to 15 digits, the first of which is non-zero.
func NormalizeE164(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNumber)
	}
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
		}
	}
	out := b.String()
	if !strings.HasPrefix(out, "+") {
		return "", fmt.Errorf("%w: missing country code in %q", ErrInvalidNumber, raw)
	}
	digits := out[1:]
	if len(digits) < 8 || len(digits) > 15 || digits[0] == '0' {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}
	return out, nil
}
