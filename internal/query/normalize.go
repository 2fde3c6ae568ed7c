package query

import (
	"strings"
	"unicode"
)

// Normalize cleans a raw user query for classification and expansion:
// lower-cased, punctuation stripped, whitespace runs collapsed to a single
// space, leading/trailing whitespace trimmed. Idempotent and total.
func Normalize(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteRune(' ')
		}
		// Everything else (punctuation, symbols) is dropped.
	}

	return strings.Join(strings.Fields(sb.String()), " ")
}
