package guide

import (
	"context"
	"math/rand/v2"
	"strings"

	"museum-guide/config"
	apperrors "museum-guide/errors"
	"museum-guide/llmclient"
	"museum-guide/metrics"
	"museum-guide/rag"
	"museum-guide/web/types"

	"go.uber.org/zap"
)

// ModelClient is the upstream model API used by the pipeline.
type ModelClient interface {
	Configured() bool
	Model() string
	Chat(ctx context.Context, req llmclient.ChatRequest) (*llmclient.ChatResult, error)
	ChatStream(ctx context.Context, req llmclient.ChatRequest, h llmclient.StreamHandlers) error
}

// Service runs grounding, model calls and answer post-processing for every
// endpoint. It holds no per-request state.
type Service struct {
	cfg       *config.Config
	grounder  *rag.Grounder
	client    ModelClient
	sanitizer *Sanitizer
	opts      PayloadOptions
	logger    *zap.Logger
	metrics   *metrics.Metrics
	intn      func(n int) int
}

func NewService(cfg *config.Config, catalog *rag.Catalog, client ModelClient, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	scorer := rag.NewScorer(catalog, rag.DefaultWeights)
	return &Service{
		cfg:       cfg,
		grounder:  rag.NewGrounder(scorer, cfg.ArtifactCandidateLimit, cfg.MuseumCandidateLimit),
		client:    client,
		sanitizer: NewSanitizer(cfg.FallbackMarkerConfidence, m),
		opts:      PayloadOptionsFromConfig(cfg),
		logger:    logger,
		metrics:   m,
		intn:      rand.IntN,
	}
}

// Health reports configuration status and catalog size.
func (s *Service) Health() types.HealthResponse {
	return types.HealthResponse{
		OK: true,
		Configured: types.ConfiguredStatus{
			HasAPIKey: s.client.Configured(),
			BaseURL:   s.cfg.AIBaseURL,
			Model:     s.client.Model(),
		},
		CatalogSize: s.grounder.Scorer().Catalog().Len(),
	}
}

// Ground resolves the grounding context for a chat request.
func (s *Service) Ground(in ChatInput) *rag.GroundingContext {
	return s.grounder.Resolve(in.GroundingInput())
}

// Chat answers one question without streaming.
func (s *Service) Chat(ctx context.Context, in ChatInput) (*types.ChatResponse, error) {
	if !s.client.Configured() {
		return nil, apperrors.ErrNotConfigured
	}
	g := s.Ground(in)
	req := BuildChatPayload(in, g, s.opts)

	s.logger.Debug("Calling model",
		zap.String("scope", string(in.Scope)),
		zap.Int("candidates", len(g.Candidates)),
		zap.Bool("web_search", req.HasWebSearch()))

	result, err := s.client.Chat(ctx, req)
	if err != nil {
		return nil, apperrors.WrapError(err, "chat completion")
	}

	answer := s.sanitizer.Sanitize(result.Content, in.Question, g)
	if answer == "" {
		return nil, apperrors.ErrEmptyAnswer
	}

	model := result.Model
	if model == "" {
		model = s.client.Model()
	}
	return &types.ChatResponse{
		Answer:    answer,
		Model:     model,
		Usage:     toUsage(result.Usage),
		WebSearch: result.WebSearch,
	}, nil
}

func toUsage(u *llmclient.Usage) *types.Usage {
	if u == nil {
		return nil
	}
	return &types.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// TurnsFromHistory converts caller history into grounding turns.
func TurnsFromHistory(items []types.HistoryItem) []rag.Turn {
	turns := make([]rag.Turn, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Content) == "" {
			continue
		}
		turns = append(turns, rag.Turn{Role: it.Role, Content: it.Content})
	}
	return turns
}

// ChatInputFromRequest validates the boundary request.
func ChatInputFromRequest(req types.ChatRequest) (ChatInput, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return ChatInput{}, apperrors.WrapError(apperrors.ErrInvalidInput, "question is required")
	}
	return ChatInput{
		Question:     question,
		Scope:        rag.ParseScope(req.Scope),
		ArtifactID:   strings.TrimSpace(req.ArtifactID),
		ArtifactName: strings.TrimSpace(req.ArtifactName),
		ContextText:  req.ContextText,
		ImageRef:     strings.TrimSpace(req.ImageDataURL),
		History:      TurnsFromHistory(req.History),
	}, nil
}
