package rag

import (
	"fmt"
	"slices"
	"strings"

	"museum-guide/utils"
)

// Scope says whether a question is about one artifact or the collection.
type Scope string

const (
	ScopeArtifact Scope = "artifact"
	ScopeMuseum   Scope = "museum"
)

// ParseScope maps caller input onto a Scope; anything unknown is museum-wide.
func ParseScope(raw string) Scope {
	if strings.EqualFold(strings.TrimSpace(raw), string(ScopeArtifact)) {
		return ScopeArtifact
	}
	return ScopeMuseum
}

// Turn is one prior conversation message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	queryHistoryItems = 4
	queryHistoryRunes = 160
)

// GroundingInput is what a request contributes to candidate retrieval.
type GroundingInput struct {
	Question     string
	Scope        Scope
	ArtifactID   string
	ArtifactName string
	History      []Turn
	// Limit overrides the scope-dependent candidate limit when positive.
	Limit int
}

// GroundingContext is computed once per request and shared by payload
// building and answer sanitization.
type GroundingContext struct {
	Candidates           []Candidate
	CandidateRefs        string
	AmbiguityHint        string
	AllowedArtifactIDs   map[string]struct{}
	PrimaryArtifactID    string
	PrimaryArtifactScore float64
}

// Allows reports whether id may be cited.
func (g *GroundingContext) Allows(id string) bool {
	if g == nil {
		return false
	}
	_, ok := g.AllowedArtifactIDs[id]
	return ok
}

// Grounder resolves requests into grounding contexts.
type Grounder struct {
	scorer        *Scorer
	artifactLimit int
	museumLimit   int
}

func NewGrounder(scorer *Scorer, artifactLimit, museumLimit int) *Grounder {
	return &Grounder{
		scorer:        scorer,
		artifactLimit: max(artifactLimit, minCandidates),
		museumLimit:   max(museumLimit, minCandidates),
	}
}

// Scorer exposes the underlying scorer.
func (g *Grounder) Scorer() *Scorer {
	return g.scorer
}

// BuildQuery assembles ranking text: the most recent history turns oldest
// first, then the question, then the artifact name.
func BuildQuery(in GroundingInput) string {
	var history []string
	for i := len(in.History) - 1; i >= 0 && len(history) < queryHistoryItems; i-- {
		if content := utils.ClipRunes(in.History[i].Content, queryHistoryRunes); content != "" {
			history = append(history, content)
		}
	}
	slices.Reverse(history)
	parts := append(history, strings.TrimSpace(in.Question), strings.TrimSpace(in.ArtifactName))
	return joinNonEmpty(parts, "\n")
}

// GroundingQuery builds the scoring query for in. Question and artifact
// name tokens are taken before history tokens, so the token cap never
// drops them.
func GroundingQuery(in GroundingInput) Query {
	text := BuildQuery(in)
	set := newOrderedSet(maxTokens)
	for _, tok := range Tokenize(joinNonEmpty([]string{in.Question, in.ArtifactName}, "\n")) {
		set.add(tok)
	}
	for _, tok := range Tokenize(text) {
		set.add(tok)
	}
	return Query{
		Norm:    Normalize(text),
		Tokens:  set.items,
		Phrases: BuildPhrases(text, set.items),
	}
}

// Resolve ranks the catalog for in and packages the result.
func (g *Grounder) Resolve(in GroundingInput) *GroundingContext {
	limit := in.Limit
	if limit <= 0 {
		limit = g.museumLimit
		if in.Scope == ScopeArtifact {
			limit = g.artifactLimit
		}
	}
	preferred := strings.TrimSpace(in.ArtifactID)
	if strings.TrimSpace(in.ArtifactName) == "" && preferred != "" {
		if rec, ok := g.scorer.Catalog().Get(preferred); ok {
			in.ArtifactName = rec.Name
		}
	}
	candidates := g.scorer.ScoreQuery(GroundingQuery(in), preferred, limit)

	ctx := &GroundingContext{
		Candidates:         candidates,
		CandidateRefs:      FormatCandidateRefs(candidates),
		AmbiguityHint:      DetectAmbiguity(in.Question, candidates),
		AllowedArtifactIDs: make(map[string]struct{}, len(candidates)),
		PrimaryArtifactID:  preferred,
	}
	for _, c := range candidates {
		ctx.AllowedArtifactIDs[c.ID] = struct{}{}
	}
	if len(candidates) > 0 {
		ctx.PrimaryArtifactID = candidates[0].ID
		ctx.PrimaryArtifactScore = candidates[0].RankScore
	}
	return ctx
}

// FormatCandidateRefs renders the citeable list, one candidate per line.
func FormatCandidateRefs(candidates []Candidate) string {
	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s｜%s｜%s", c.ID, c.Name, c.Series)
		if c.PDFTopic != "" {
			fmt.Fprintf(&b, "｜%s", c.PDFTopic)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
