package guide

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"museum-guide/llmclient"
	"museum-guide/prompts"
	"museum-guide/rag"
	"museum-guide/utils"
	"museum-guide/web/types"

	"go.uber.org/zap"
)

const (
	enrichCandidateLimit  = 8
	maxRecommendations    = 3
	maxCitations          = 4
	fallbackCitations     = 2
	enrichAnswerRunes     = 1500
	enrichExcerptRunes    = 2000
	enrichSummaryRunes    = 160
	recommendReasonRunes  = 60
	citationTitleRunes    = 40
	citationExcerptRunes  = 160
	enrichTemperature     = 0.2
	fallbackReasonCurrent = "当前讲解的展品"
	fallbackReasonRelated = "与本次问答相关的馆藏展品"
	featureEnrich         = "enrich"
	featureWish           = "wish"
)

// EnrichInput is a validated enrichment request.
type EnrichInput struct {
	Question     string
	Answer       string
	Scope        rag.Scope
	ArtifactID   string
	ArtifactName string
	ContextText  string
}

func EnrichInputFromRequest(req types.EnrichRequest) (EnrichInput, error) {
	in := EnrichInput{
		Question:     strings.TrimSpace(req.Question),
		Answer:       strings.TrimSpace(req.Answer),
		Scope:        rag.ParseScope(req.Scope),
		ArtifactID:   strings.TrimSpace(req.ArtifactID),
		ArtifactName: strings.TrimSpace(req.ArtifactName),
		ContextText:  req.ContextText,
	}
	if in.Question == "" || in.Answer == "" {
		return EnrichInput{}, invalidInput("question and answer are required")
	}
	return in, nil
}

type enrichReply struct {
	Recommendations []struct {
		ID     string    `json:"id"`
		Reason string    `json:"reason"`
		Score  flexScore `json:"score"`
	} `json:"recommendations"`
	Citations []struct {
		ArtifactID string `json:"artifactId"`
		Title      string `json:"title"`
		Excerpt    string `json:"excerpt"`
		SourceType string `json:"sourceType"`
	} `json:"citations"`
}

// Enrich proposes related artifacts and source citations for an answer.
// It never fails: any model problem yields the local ranking instead.
func (s *Service) Enrich(ctx context.Context, in EnrichInput) types.EnrichResponse {
	g := s.grounder.Resolve(rag.GroundingInput{
		Question:     in.Question + "\n" + in.Answer,
		Scope:        in.Scope,
		ArtifactID:   in.ArtifactID,
		ArtifactName: in.ArtifactName,
		Limit:        enrichCandidateLimit,
	})
	if len(g.Candidates) == 0 {
		return types.EnrichResponse{Recommendations: []types.Recommendation{}, Citations: []types.Citation{}}
	}

	resp, err := s.enrichWithModel(ctx, in, g)
	if err != nil {
		s.metrics.Fallback(featureEnrich)
		s.logger.Warn("Enrichment fell back to local ranking", zap.Error(err))
		return FallbackEnrichment(g.Candidates, in.ArtifactID)
	}
	return resp
}

func (s *Service) enrichWithModel(ctx context.Context, in EnrichInput, g *rag.GroundingContext) (types.EnrichResponse, error) {
	if !s.client.Configured() {
		return types.EnrichResponse{}, fmt.Errorf("model not configured")
	}
	temp := enrichTemperature
	result, err := s.client.Chat(ctx, llmclient.ChatRequest{
		Model: s.opts.Model,
		Messages: []llmclient.Message{
			{Role: "system", Content: llmclient.TextContent(prompts.EnrichSystem())},
			{Role: "user", Content: llmclient.TextContent(enrichUserText(in, g))},
		},
		Temperature:    &temp,
		ResponseFormat: &llmclient.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return types.EnrichResponse{}, err
	}

	var reply enrichReply
	if err := decodeJSONReply(result.Content, &reply); err != nil {
		return types.EnrichResponse{}, fmt.Errorf("decode enrichment: %w", err)
	}
	resp := normalizeEnrichment(reply, g)
	if len(resp.Recommendations) == 0 {
		return types.EnrichResponse{}, fmt.Errorf("no usable recommendations")
	}
	return resp, nil
}

func enrichUserText(in EnrichInput, g *rag.GroundingContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "观众问题：%s\n\n", in.Question)
	fmt.Fprintf(&b, "讲解回答：%s\n\n", utils.ClipRunes(in.Answer, enrichAnswerRunes))
	if in.ArtifactName != "" {
		fmt.Fprintf(&b, "当前展品：%s（%s）\n\n", in.ArtifactName, in.ArtifactID)
	}
	b.WriteString("候选展品：\n")
	for _, c := range g.Candidates {
		fmt.Fprintf(&b, "- id=%s 名称=%s 系列=%s 主题=%s\n  摘要：%s\n",
			c.ID, c.Name, c.Series, c.PDFTopic, utils.ClipRunes(c.Summary, enrichSummaryRunes))
	}
	if excerpt := utils.ClipRunes(in.ContextText, enrichExcerptRunes); excerpt != "" {
		fmt.Fprintf(&b, "\n资料摘录：\n%s\n", excerpt)
	}
	return b.String()
}

// normalizeEnrichment keeps only entries that cite allowed candidates and
// coerces every field into range.
func normalizeEnrichment(reply enrichReply, g *rag.GroundingContext) types.EnrichResponse {
	byID := make(map[string]rag.Candidate, len(g.Candidates))
	for _, c := range g.Candidates {
		byID[c.ID] = c
	}

	resp := types.EnrichResponse{Recommendations: []types.Recommendation{}, Citations: []types.Citation{}}
	seen := make(map[string]struct{})
	for _, r := range reply.Recommendations {
		id := strings.TrimSpace(r.ID)
		c, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		score := clampScore(c.RankScore)
		if r.Score.Set {
			score = clampScore(r.Score.Value)
		}
		reason := utils.ClipWithEllipsis(r.Reason, recommendReasonRunes)
		if reason == "" {
			reason = fallbackReasonRelated
		}
		resp.Recommendations = append(resp.Recommendations, types.Recommendation{
			ID: id, Name: c.Name, Series: c.Series, Reason: reason, Score: score,
		})
		if len(resp.Recommendations) == maxRecommendations {
			break
		}
	}

	for _, ct := range reply.Citations {
		id := strings.TrimSpace(ct.ArtifactID)
		c, ok := byID[id]
		if !ok {
			continue
		}
		excerpt := utils.ClipWithEllipsis(ct.Excerpt, citationExcerptRunes)
		if excerpt == "" {
			continue
		}
		title := utils.ClipRunes(ct.Title, citationTitleRunes)
		if title == "" {
			title = c.Name
		}
		resp.Citations = append(resp.Citations, types.Citation{
			ArtifactID: id,
			Title:      title,
			Excerpt:    excerpt,
			SourceType: normalizeSourceType(ct.SourceType),
		})
		if len(resp.Citations) == maxCitations {
			break
		}
	}
	return resp
}

func normalizeSourceType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case types.SourcePDF:
		return types.SourcePDF
	case types.SourceContext:
		return types.SourceContext
	default:
		return types.SourceCatalog
	}
}

// FallbackEnrichment ranks candidates locally: the preferred artifact
// first, then by richness. Citations quote catalog summaries.
func FallbackEnrichment(candidates []rag.Candidate, preferredID string) types.EnrichResponse {
	ranked := make([]rag.Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		pi, pj := ranked[i].ID == preferredID, ranked[j].ID == preferredID
		if pi != pj {
			return pi
		}
		return ranked[i].Richness > ranked[j].Richness
	})

	resp := types.EnrichResponse{Recommendations: []types.Recommendation{}, Citations: []types.Citation{}}
	for _, c := range ranked {
		if len(resp.Recommendations) == maxRecommendations {
			break
		}
		reason := fallbackReasonRelated
		if c.ID == preferredID && preferredID != "" {
			reason = fallbackReasonCurrent
		}
		resp.Recommendations = append(resp.Recommendations, types.Recommendation{
			ID: c.ID, Name: c.Name, Series: c.Series, Reason: reason, Score: clampScore(c.RankScore),
		})
	}
	for _, c := range ranked {
		if len(resp.Citations) == fallbackCitations {
			break
		}
		if c.Summary == "" {
			continue
		}
		resp.Citations = append(resp.Citations, types.Citation{
			ArtifactID: c.ID,
			Title:      c.Name,
			Excerpt:    utils.ClipWithEllipsis(c.Summary, citationExcerptRunes),
			SourceType: types.SourceCatalog,
		})
	}
	return resp
}
