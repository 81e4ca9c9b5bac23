package codec

import "strings"

// DateOnly reduces an ISO timestamp to date-only precision (YYYY-MM-DD).
func DateOnly(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

// CurrencyCode normalizes a currency to an uppercase 3-letter code.
func CurrencyCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) > 3 {
		return s[:3]
	}
	return s
}

// Truncate caps a string at max bytes, cutting at a rune boundary so a
// multi-byte character is never split mid-sequence.
func Truncate(max int) Transform {
	return func(s string) string {
		if len(s) <= max {
			return s
		}
		cut := max
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		return s[:cut]
	}
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
