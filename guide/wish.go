package guide

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "museum-guide/errors"
	"museum-guide/llmclient"
	"museum-guide/prompts"
	"museum-guide/rag"
	"museum-guide/utils"
	"museum-guide/web/types"

	"go.uber.org/zap"
)

const (
	wishReasonRunes    = 60
	maxWishCandidates  = 30
	wishTemperature    = 0.5
	wishReasonModel    = "这件展品与你的心愿最相近"
	wishReasonRandom   = "没有找到直接相关的展品，随缘为你挑了一件"
	wishReasonMatchFmt = "你的心愿提到了「%s」"
)

func invalidInput(msg string) error {
	return apperrors.WrapError(apperrors.ErrInvalidInput, msg)
}

// WishInputFromRequest validates a wish request, dropping candidates
// without an id.
func WishInputFromRequest(req types.WishRequest) (string, []types.WishCandidate, error) {
	wish := strings.TrimSpace(req.Wish)
	var candidates []types.WishCandidate
	for _, c := range req.Candidates {
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			continue
		}
		candidates = append(candidates, c)
		if len(candidates) == maxWishCandidates {
			break
		}
	}
	if wish == "" || len(candidates) == 0 {
		return "", nil, invalidInput("wish and candidates are required")
	}
	return wish, candidates, nil
}

// PickWish chooses the candidate that best answers a visitor's wish. After
// validation it always returns a pick.
func (s *Service) PickWish(ctx context.Context, wish string, candidates []types.WishCandidate) types.WishResponse {
	pick, err := s.pickWithModel(ctx, wish, candidates)
	if err == nil {
		return pick
	}
	s.metrics.Fallback(featureWish)
	s.logger.Warn("Wish pick fell back to local matching", zap.Error(err))
	return PickWishLocally(wish, candidates, s.intn)
}

func (s *Service) pickWithModel(ctx context.Context, wish string, candidates []types.WishCandidate) (types.WishResponse, error) {
	if !s.client.Configured() {
		return types.WishResponse{}, apperrors.ErrNotConfigured
	}
	list, err := json.Marshal(candidates)
	if err != nil {
		return types.WishResponse{}, err
	}
	temp := wishTemperature
	result, err := s.client.Chat(ctx, llmclient.ChatRequest{
		Model: s.opts.Model,
		Messages: []llmclient.Message{
			{Role: "system", Content: llmclient.TextContent(prompts.WishSystem())},
			{Role: "user", Content: llmclient.TextContent("心愿：" + wish + "\n\n候选展品：\n" + string(list))},
		},
		Temperature:    &temp,
		ResponseFormat: &llmclient.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return types.WishResponse{}, err
	}

	var reply types.WishResponse
	if err := decodeJSONReply(result.Content, &reply); err != nil {
		return types.WishResponse{}, fmt.Errorf("decode wish pick: %w", err)
	}
	reply.ID = strings.TrimSpace(reply.ID)
	for _, c := range candidates {
		if c.ID == reply.ID {
			reason := utils.ClipWithEllipsis(reply.Reason, wishReasonRunes)
			if reason == "" {
				reason = wishReasonModel
			}
			return types.WishResponse{ID: c.ID, Reason: reason}, nil
		}
	}
	return types.WishResponse{}, fmt.Errorf("model picked unknown id %q", reply.ID)
}

// PickWishLocally scores each candidate by the total length of its name,
// series, topic and tag tokens found in the wish. The highest score wins,
// earlier candidates winning ties; when nothing matches, intn picks one
// at random.
func PickWishLocally(wish string, candidates []types.WishCandidate, intn func(n int) int) types.WishResponse {
	if len(candidates) == 0 {
		return types.WishResponse{}
	}
	haystack := rag.Normalize(wish)

	best, bestScore, bestToken := 0, 0, ""
	for i, c := range candidates {
		score, top := wishScore(haystack, c)
		if score > bestScore {
			best, bestScore, bestToken = i, score, top
		}
	}
	if bestScore == 0 {
		return types.WishResponse{ID: candidates[intn(len(candidates))].ID, Reason: wishReasonRandom}
	}
	return types.WishResponse{ID: candidates[best].ID, Reason: fmt.Sprintf(wishReasonMatchFmt, bestToken)}
}

// wishScore returns the summed match length and the longest matched token.
func wishScore(haystack string, c types.WishCandidate) (int, string) {
	fields := append([]string{c.Name, c.Series, c.PDFTopic}, c.Tags...)
	seen := make(map[string]struct{})
	score, longest := 0, ""
	for _, field := range fields {
		for _, tok := range rag.Tokenize(field) {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			if !strings.Contains(haystack, tok) {
				continue
			}
			n := utils.RuneLen(tok)
			score += n
			if n > utils.RuneLen(longest) {
				longest = tok
			}
		}
	}
	return score, longest
}
