package guide

import (
	"fmt"
	"strings"

	"museum-guide/config"
	"museum-guide/llmclient"
	"museum-guide/prompts"
	"museum-guide/rag"
	"museum-guide/utils"
)

const (
	briefCandidates    = 6
	briefSummaryRunes  = 80
	noReferenceableMsg = "（本次没有可引用的展品，请不要输出展品卡片）"
)

// ChatInput is a validated chat request.
type ChatInput struct {
	Question     string
	Scope        rag.Scope
	ArtifactID   string
	ArtifactName string
	ContextText  string
	ImageRef     string
	History      []rag.Turn
}

// GroundingInput projects the request onto candidate retrieval.
func (in ChatInput) GroundingInput() rag.GroundingInput {
	return rag.GroundingInput{
		Question:     in.Question,
		Scope:        in.Scope,
		ArtifactID:   in.ArtifactID,
		ArtifactName: in.ArtifactName,
		History:      in.History,
	}
}

// PayloadOptions bounds what goes into a model request.
type PayloadOptions struct {
	Model               string
	Temperature         float64
	HistoryMaxItems     int
	HistoryItemMaxChars int
	ContextMaxChars     int
	WebSearchEnabled    bool
	WebSearchConfidence float64
}

func PayloadOptionsFromConfig(cfg *config.Config) PayloadOptions {
	return PayloadOptions{
		Model:               cfg.AIModel,
		Temperature:         cfg.AITemperature,
		HistoryMaxItems:     cfg.HistoryMaxItems,
		HistoryItemMaxChars: cfg.HistoryItemMaxChars,
		ContextMaxChars:     cfg.ContextMaxChars,
		WebSearchEnabled:    cfg.WebSearchEnabled,
		WebSearchConfidence: cfg.WebSearchConfidence,
	}
}

// BuildChatPayload assembles the model request for one question. g must be
// the same grounding context later used to sanitize the answer.
func BuildChatPayload(in ChatInput, g *rag.GroundingContext, opts PayloadOptions) llmclient.ChatRequest {
	messages := []llmclient.Message{{
		Role:    "system",
		Content: llmclient.TextContent(systemPrompt(in.Scope, g)),
	}}
	messages = append(messages, trimHistory(in.History, opts.HistoryMaxItems, opts.HistoryItemMaxChars)...)

	text := userText(in, g, opts.ContextMaxChars)
	content := llmclient.TextContent(text)
	if ref := strings.TrimSpace(in.ImageRef); ref != "" && utils.IsImageReference(ref) {
		content = llmclient.PartsContent(
			llmclient.ContentPart{Type: "text", Text: text},
			llmclient.ContentPart{Type: "image_url", ImageURL: &llmclient.ImageURL{URL: ref}},
		)
	}
	messages = append(messages, llmclient.Message{Role: "user", Content: content})

	temp := opts.Temperature
	req := llmclient.ChatRequest{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: &temp,
	}
	if opts.WebSearchEnabled && wantsWebSearch(in, g, opts.WebSearchConfidence) {
		req.Tools = []llmclient.Tool{llmclient.NewWebSearchTool()}
	}
	return req
}

// wantsWebSearch applies only to museum-wide questions: search is skipped
// when the question looks for a specific exhibit and the catalog already
// has a confident match.
func wantsWebSearch(in ChatInput, g *rag.GroundingContext, threshold float64) bool {
	if in.Scope != rag.ScopeMuseum {
		return false
	}
	if !HasLookupIntent(in.Question) {
		return true
	}
	return g == nil || g.PrimaryArtifactScore < threshold
}

func systemPrompt(scope rag.Scope, g *rag.GroundingContext) string {
	base := prompts.MuseumSystem()
	if scope == rag.ScopeArtifact {
		base = prompts.ArtifactSystem()
	}
	refs := ""
	if g != nil {
		refs = g.CandidateRefs
	}
	if refs == "" {
		return strings.TrimSpace(base) + "\n\n可引用展品：\n" + noReferenceableMsg
	}
	return strings.TrimSpace(base) + "\n\n可引用展品（id｜名称｜系列｜主题）：\n" + refs
}

// trimHistory keeps the most recent turns, oldest first.
func trimHistory(history []rag.Turn, maxItems, maxChars int) []llmclient.Message {
	if maxItems <= 0 || len(history) == 0 {
		return nil
	}
	var kept []llmclient.Message
	for i := len(history) - 1; i >= 0 && len(kept) < maxItems; i-- {
		role := strings.ToLower(strings.TrimSpace(history[i].Role))
		if role != "user" && role != "assistant" {
			continue
		}
		content := utils.ClipRunes(strings.TrimSpace(history[i].Content), maxChars)
		if content == "" {
			continue
		}
		kept = append(kept, llmclient.Message{Role: role, Content: llmclient.TextContent(content)})
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

func userText(in ChatInput, g *rag.GroundingContext, contextMax int) string {
	var sections []string
	if in.Scope == rag.ScopeArtifact && strings.TrimSpace(in.ArtifactName) != "" {
		sections = append(sections, "当前展品："+strings.TrimSpace(in.ArtifactName))
	}
	if ctxText := utils.ClipRunes(strings.TrimSpace(in.ContextText), contextMax); ctxText != "" {
		sections = append(sections, "参考资料：\n"+ctxText)
	}
	if g != nil {
		if brief := GroundingBrief(g.Candidates, briefCandidates); brief != "" {
			sections = append(sections, "候选展品：\n"+brief)
		}
		if g.AmbiguityHint != "" {
			sections = append(sections, "歧义提示：\n"+g.AmbiguityHint)
		}
	}
	sections = append(sections, "问题："+strings.TrimSpace(in.Question))
	return strings.Join(sections, "\n\n")
}

// GroundingBrief lists the top candidates as "index. id name (series) - summary".
func GroundingBrief(candidates []rag.Candidate, limit int) string {
	var b strings.Builder
	for i, c := range candidates {
		if i >= limit {
			break
		}
		fmt.Fprintf(&b, "%d. %s %s", i+1, c.ID, c.Name)
		if c.Series != "" {
			fmt.Fprintf(&b, " (%s)", c.Series)
		}
		if summary := utils.ClipWithEllipsis(c.Summary, briefSummaryRunes); summary != "" {
			b.WriteString(" - ")
			b.WriteString(summary)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
