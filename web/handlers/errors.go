package handlers

import (
	"context"
	"errors"
	"net/http"

	apperrors "museum-guide/errors"
	"museum-guide/web/middleware"
	"museum-guide/web/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondWithError logs the technical error and returns a user-friendly message
func respondWithError(c *gin.Context, statusCode int, technicalError error, userMessage string, logger *zap.Logger, fields ...zap.Field) {
	// Log technical error with context
	if logger != nil {
		fields = append(fields, zap.Error(technicalError))
		if errors.Is(technicalError, context.Canceled) {
			logger.Info("Request cancelled by client", fields...)
		} else {
			logger.Error("Request failed", fields...)
		}
	}

	// Return user-friendly message
	respondWithClientError(c, statusCode, userMessage)
}

// respondWithClientError returns a client error (no logging needed for validation errors)
func respondWithClientError(c *gin.Context, statusCode int, userMessage string) {
	c.AbortWithStatusJSON(statusCode, types.ErrorResponse{
		Error:     userMessage,
		RequestID: middleware.RequestID(c),
	})
}

// classifyError maps pipeline errors onto an HTTP status and a short
// caller-facing message.
func classifyError(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusBadRequest, "request body too large"
	case apperrors.IsInvalidInput(err):
		return http.StatusBadRequest, "invalid request"
	case apperrors.IsNotConfigured(err):
		return http.StatusInternalServerError, "AI service is not configured"
	case apperrors.IsEmptyAnswer(err):
		return http.StatusBadGateway, "the model returned an empty answer"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "the AI service timed out"
	case errors.Is(err, apperrors.ErrLLMCommunication):
		return http.StatusBadGateway, "the AI service is temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
