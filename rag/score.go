package rag

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	minCandidates       = 3
	maxCandidateTags    = 6
	candidateSummaryLen = 220
)

// Candidate is a per-request projection of a Record with its score.
type Candidate struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Series    string   `json:"series"`
	Tags      []string `json:"tags"`
	PDFTopic  string   `json:"pdfTopic"`
	Summary   string   `json:"summary"`
	Richness  float64  `json:"richness"`
	RankScore float64  `json:"rankScore"`
}

// Query is a pre-processed ranking query.
type Query struct {
	Norm    string
	Tokens  []string
	Phrases []string
}

// NewQuery normalizes and tokenizes text once for scoring.
func NewQuery(text string) Query {
	tokens := Tokenize(text)
	return Query{
		Norm:    Normalize(text),
		Tokens:  tokens,
		Phrases: BuildPhrases(text, tokens),
	}
}

// Scorer ranks catalog records against free-text queries.
type Scorer struct {
	catalog *Catalog
	weights Weights
}

func NewScorer(catalog *Catalog, weights Weights) *Scorer {
	if catalog == nil {
		catalog = NewCatalog(nil, nil)
	}
	return &Scorer{catalog: catalog, weights: weights}
}

// Catalog exposes the index the scorer reads.
func (s *Scorer) Catalog() *Catalog {
	return s.catalog
}

// Score returns at most max(3, limit) candidates, highest score first,
// ties kept in catalog order.
func (s *Scorer) Score(queryText, preferredID string, limit int) []Candidate {
	return s.ScoreQuery(NewQuery(queryText), preferredID, limit)
}

// ScoreQuery is Score for a prepared query.
func (s *Scorer) ScoreQuery(q Query, preferredID string, limit int) []Candidate {
	records := s.catalog.records
	if len(records) == 0 {
		return []Candidate{}
	}

	type scored struct {
		idx   int
		score float64
	}
	all := make([]scored, len(records))
	for i := range records {
		all[i] = scored{idx: i, score: scoreRecord(&records[i], q, preferredID, s.weights)}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].score > all[j].score
	})

	n := min(max(minCandidates, limit), len(all))
	out := make([]Candidate, 0, n)
	for _, sc := range all[:n] {
		out = append(out, toCandidate(&records[sc.idx], sc.score))
	}
	return out
}

type hitCounter struct {
	structured int
	summary    int
}

// applyFieldHits adds bonuses for every field containing term.
func applyFieldHits(rec *Record, term string, fw FieldWeights, summaryBonus float64, hits *hitCounter) float64 {
	bonus := 0.0
	if strings.Contains(rec.nameNorm, term) {
		bonus += fw.Name
		hits.structured++
	}
	if strings.Contains(rec.seriesNorm, term) {
		bonus += fw.Series
		hits.structured++
	}
	if rec.topicNorm != "" && strings.Contains(rec.topicNorm, term) {
		bonus += fw.Topic
		hits.structured++
	}
	if containsAny(rec.tagsNorm, term) {
		bonus += fw.Tag
		hits.structured++
	}
	if containsAny(rec.aliasNorm, term) {
		bonus += fw.Alias
		hits.structured++
	}
	if strings.Contains(rec.summaryNorm, term) {
		bonus += summaryBonus
		hits.summary++
	}
	return bonus
}

func scoreRecord(rec *Record, q Query, preferredID string, w Weights) float64 {
	score := w.Richness * rec.Richness
	var hits hitCounter

	if preferredID != "" && rec.ID == preferredID {
		score += w.Preferred
		hits.structured++
	}

	for _, phrase := range q.Phrases {
		if utf8.RuneCountInString(phrase) < minPhraseRunes {
			continue
		}
		score += applyFieldHits(rec, phrase, w.Phrase, w.Phrase.Summary, &hits)
	}

	for _, tok := range q.Tokens {
		summaryBonus := min(w.Token.Summary, float64(utf8.RuneCountInString(tok))*w.SummaryTokenPerRune)
		score += applyFieldHits(rec, tok, w.Token, summaryBonus, &hits)
	}

	if q.Norm != "" && strings.Contains(rec.summaryNorm, q.Norm) && !strings.Contains(rec.nameNorm, q.Norm) {
		score += min(w.WholeQueryMax, float64(utf8.RuneCountInString(q.Norm))*w.WholeQueryPerRune)
	}

	if hits.structured == 0 && hits.summary > 0 {
		score -= w.SummaryOnlyPenalty
	}
	if hits.structured >= 2 {
		score += w.Convergent2
	}
	if hits.structured >= 4 {
		score += w.Convergent4
	}
	return score
}

func containsAny(fields []string, term string) bool {
	for _, f := range fields {
		if strings.Contains(f, term) {
			return true
		}
	}
	return false
}

func toCandidate(rec *Record, score float64) Candidate {
	tags := rec.Tags
	if len(tags) > maxCandidateTags {
		tags = tags[:maxCandidateTags]
	}
	summary := rec.Summary
	if runes := []rune(summary); len(runes) > candidateSummaryLen {
		summary = string(runes[:candidateSummaryLen])
	}
	return Candidate{
		ID:        rec.ID,
		Name:      rec.Name,
		Series:    rec.Series,
		Tags:      append([]string(nil), tags...),
		PDFTopic:  rec.PDFTopic,
		Summary:   summary,
		Richness:  rec.Richness,
		RankScore: score,
	}
}
