package guide

import (
	"regexp"
	"strings"
)

const markerLabel = "展品卡片"

// looseMarker accepts the marker written with full-width brackets, colons
// or pipes, and stray spaces. Notes never contain brackets, so a marker
// cannot hide inside another marker's note.
var looseMarker = regexp.MustCompile(
	`(?:\[|【|［)\s*展品卡片\s*(?::|：)\s*([^\s\[\]【】［］|｜丨]+)\s*(?:(?:\||｜|丨)([^\[\]【】［］\n]*))?(?:\]|】|］)`,
)

// canonicalMarker matches only the ASCII form produced by FormatMarker.
var canonicalMarker = regexp.MustCompile(`\[展品卡片:([^\s\[\]【】［］|｜丨]+)(?:\|([^\[\]【】［］\n]*))?\]`)

// Marker is a parsed artifact card reference.
type Marker struct {
	ID   string
	Note string
}

// FormatMarker renders m in canonical form.
func FormatMarker(m Marker) string {
	if m.Note == "" {
		return "[" + markerLabel + ":" + m.ID + "]"
	}
	return "[" + markerLabel + ":" + m.ID + "|" + m.Note + "]"
}

// CanonicalizeMarkers rewrites every marker variant into canonical form.
// Canonical input is returned unchanged.
func CanonicalizeMarkers(text string) string {
	return looseMarker.ReplaceAllStringFunc(text, func(match string) string {
		sub := looseMarker.FindStringSubmatch(match)
		return FormatMarker(Marker{ID: sub[1], Note: strings.TrimSpace(sub[2])})
	})
}

// ParseMarkers returns the canonical markers in text, in order.
func ParseMarkers(text string) []Marker {
	var out []Marker
	for _, sub := range canonicalMarker.FindAllStringSubmatch(text, -1) {
		out = append(out, Marker{ID: sub[1], Note: sub[2]})
	}
	return out
}
