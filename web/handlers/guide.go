package handlers

import (
	"errors"
	"net/http"

	apperrors "museum-guide/errors"
	"museum-guide/guide"
	"museum-guide/web/middleware"
	"museum-guide/web/services"
	"museum-guide/web/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GuideHandler serves the /api/ai endpoints.
type GuideHandler struct {
	service *guide.Service
	streams *services.StreamService
	logger  *zap.Logger
}

func NewGuideHandler(service *guide.Service, streams *services.StreamService, logger *zap.Logger) *GuideHandler {
	return &GuideHandler{
		service: service,
		streams: streams,
		logger:  logger,
	}
}

func (h *GuideHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Health())
}

// bindJSON decodes the body, answering 400 on malformed or oversized input.
func (h *GuideHandler) bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondWithClientError(c, http.StatusBadRequest, "request body too large")
			return false
		}
		respondWithClientError(c, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *GuideHandler) Chat(c *gin.Context) {
	var req types.ChatRequest
	if !h.bindJSON(c, &req) {
		return
	}
	in, err := guide.ChatInputFromRequest(req)
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, "question is required")
		return
	}

	resp, err := h.service.Chat(c.Request.Context(), in)
	if err != nil {
		status, msg := classifyError(err)
		respondWithError(c, status, err, msg, middleware.LoggerFrom(c),
			zap.String("scope", string(in.Scope)),
			zap.Int("upstream_status", apperrors.StatusCode(err)))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *GuideHandler) ChatStream(c *gin.Context) {
	var req types.ChatRequest
	if !h.bindJSON(c, &req) {
		return
	}
	in, err := guide.ChatInputFromRequest(req)
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, "question is required")
		return
	}

	ctx := c.Request.Context()
	h.streams.PrepareHeaders(c.Writer)
	writer := h.streams.NewWriter(ctx, c.Writer)

	logger := middleware.LoggerFrom(c)
	if err := h.service.ChatStream(ctx, in, writer); err != nil {
		logger.Info("Chat stream ended with error", zap.Error(err),
			zap.Bool("terminated", writer.Finished()), zap.Int("events", writer.Written()))
		return
	}
	logger.Debug("Chat stream finished", zap.Int("events", writer.Written()))
}

func (h *GuideHandler) Enrich(c *gin.Context) {
	var req types.EnrichRequest
	if !h.bindJSON(c, &req) {
		return
	}
	in, err := guide.EnrichInputFromRequest(req)
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, "question and answer are required")
		return
	}
	c.JSON(http.StatusOK, h.service.Enrich(c.Request.Context(), in))
}

func (h *GuideHandler) Wish(c *gin.Context) {
	var req types.WishRequest
	if !h.bindJSON(c, &req) {
		return
	}
	wish, candidates, err := guide.WishInputFromRequest(req)
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, "wish and candidates are required")
		return
	}
	c.JSON(http.StatusOK, h.service.PickWish(c.Request.Context(), wish, candidates))
}
