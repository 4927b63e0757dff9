package guide

import (
	"regexp"
	"strings"

	"museum-guide/metrics"
	"museum-guide/rag"
	"museum-guide/utils"
)

const (
	maxMarkers     = 3
	markerNoteMax  = 40
	fallbackNote   = "系统根据馆藏资料匹配"
	dropNotAllowed = "not_allowed"
	dropOverLimit  = "over_limit"
)

var (
	trailingSpace = regexp.MustCompile(`[ \t\x{3000}]+\n`)
	leadingSpace  = regexp.MustCompile(`\n[ \t\x{3000}]+(\[展品卡片:)`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// Sanitizer enforces marker rules on model answers.
type Sanitizer struct {
	fallbackConfidence float64
	metrics            *metrics.Metrics
}

func NewSanitizer(fallbackConfidence float64, m *metrics.Metrics) *Sanitizer {
	return &Sanitizer{fallbackConfidence: fallbackConfidence, metrics: m}
}

// Sanitize canonicalizes markers, drops those not in the allow-list or past
// the third, puts each survivor on its own line between blank lines, and
// appends a fallback marker for confident lookup questions that cited
// nothing.
func (s *Sanitizer) Sanitize(raw, question string, g *rag.GroundingContext) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")

	// Removing a marker can splice its neighbours into a new one, so the
	// filter repeats until a pass drops nothing.
	var kept int
	for {
		var notAllowed, overLimit int
		text, kept, notAllowed, overLimit = filterMarkers(CanonicalizeMarkers(text), g)
		s.metrics.MarkersDropped(dropNotAllowed, notAllowed)
		s.metrics.MarkersDropped(dropOverLimit, overLimit)
		if notAllowed+overLimit == 0 {
			break
		}
	}
	text = tidyBlankLines(text)

	if kept == 0 && s.shouldAppendFallback(question, g) {
		marker := FormatMarker(Marker{ID: g.PrimaryArtifactID, Note: fallbackNote})
		if text == "" {
			text = marker
		} else {
			text += "\n\n" + marker
		}
	}
	return text
}

func filterMarkers(text string, g *rag.GroundingContext) (out string, kept, notAllowed, overLimit int) {
	out = canonicalMarker.ReplaceAllStringFunc(text, func(match string) string {
		sub := canonicalMarker.FindStringSubmatch(match)
		id := sub[1]
		if !g.Allows(id) {
			notAllowed++
			return ""
		}
		if kept >= maxMarkers {
			overLimit++
			return ""
		}
		kept++
		note := strings.TrimSpace(utils.ClipRunes(strings.TrimSpace(sub[2]), markerNoteMax))
		return "\n\n" + FormatMarker(Marker{ID: id, Note: note}) + "\n\n"
	})
	return out, kept, notAllowed, overLimit
}

func (s *Sanitizer) shouldAppendFallback(question string, g *rag.GroundingContext) bool {
	if g == nil || g.PrimaryArtifactID == "" {
		return false
	}
	return HasLookupIntent(question) &&
		g.Allows(g.PrimaryArtifactID) &&
		g.PrimaryArtifactScore >= s.fallbackConfidence
}

func tidyBlankLines(text string) string {
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = leadingSpace.ReplaceAllString(text, "\n$1")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
