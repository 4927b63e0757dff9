package utils

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ClipRunes trims text and cuts it to at most max runes. A max of zero or
// less returns the trimmed text unchanged.
func ClipRunes(text string, max int) string {
	text = strings.TrimSpace(text)
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:max]))
}

// ClipWithEllipsis behaves like ClipRunes but marks truncation with "…".
func ClipWithEllipsis(text string, max int) string {
	clipped := ClipRunes(text, max)
	if clipped != strings.TrimSpace(text) {
		return clipped + "…"
	}
	return clipped
}

// RuneLen is utf8.RuneCountInString, kept short for scoring code.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// IsImageReference accepts inline data URLs and http(s) image links.
func IsImageReference(ref string) bool {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "data:image/") {
		return strings.Contains(ref, ";base64,")
	}
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}

// GenerateRequestID creates a unique request identifier using UUID v4.
func GenerateRequestID() string {
	return uuid.New().String()
}
