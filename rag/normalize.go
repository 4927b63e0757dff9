package rag

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Normalize folds width and case, replaces punctuation and symbols with
// spaces, and collapses whitespace. It is total and idempotent.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	folded := width.Fold.String(text)
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsPunct(r), unicode.IsSymbol(r), unicode.IsControl(r), unicode.IsSpace(r):
			return ' '
		default:
			return unicode.ToLower(r)
		}
	}, folded)
	return strings.Join(strings.Fields(mapped), " ")
}
