package guide

import (
	"context"
	"errors"
	"strings"

	apperrors "museum-guide/errors"
	"museum-guide/llmclient"
	"museum-guide/web/types"

	"go.uber.org/zap"
)

// EventWriter delivers stream events to the caller in order.
type EventWriter interface {
	WriteEvent(ev types.StreamEvent) error
}

// ChatStream relays a streamed answer as delta events and always finishes
// with exactly one done or error event. The done event carries the
// sanitized answer. The returned error is for logging only; the caller
// has already been told through the event stream.
func (s *Service) ChatStream(ctx context.Context, in ChatInput, w EventWriter) error {
	if !s.client.Configured() {
		return s.finishWithError(w, apperrors.ErrNotConfigured)
	}

	g := s.Ground(in)
	req := BuildChatPayload(in, g, s.opts)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		answer   strings.Builder
		model    string
		writeErr error
	)
	err := s.client.ChatStream(ctx, req, llmclient.StreamHandlers{
		OnDelta: func(text string) {
			if writeErr != nil {
				return
			}
			answer.WriteString(text)
			if writeErr = s.write(w, types.DeltaEvent(text, answer.String())); writeErr != nil {
				cancel()
			}
		},
		OnMeta: func(meta llmclient.StreamMeta) {
			if meta.Model != "" {
				model = meta.Model
			}
		},
	})
	if writeErr != nil {
		s.logger.Debug("Caller went away during stream", zap.Error(writeErr))
		return writeErr
	}
	if err != nil {
		return s.finishWithError(w, err)
	}

	final := s.sanitizer.Sanitize(answer.String(), in.Question, g)
	if final == "" {
		return s.finishWithError(w, apperrors.ErrEmptyAnswer)
	}
	if model == "" {
		model = s.client.Model()
	}
	return s.write(w, types.DoneEvent(final, model))
}

func (s *Service) write(w EventWriter, ev types.StreamEvent) error {
	if err := w.WriteEvent(ev); err != nil {
		return err
	}
	s.metrics.StreamEvent(ev.Type)
	return nil
}

func (s *Service) finishWithError(w EventWriter, cause error) error {
	if errors.Is(cause, context.Canceled) {
		s.logger.Debug("Stream cancelled", zap.Error(cause))
	} else {
		s.logger.Warn("Stream ended with error", zap.Error(cause))
	}
	if err := s.write(w, types.ErrorEvent(StreamErrorMessage(cause))); err != nil {
		return err
	}
	return cause
}

// StreamErrorMessage is the caller-facing text for a stream failure.
func StreamErrorMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNotConfigured):
		return "AI service is not configured"
	case errors.Is(err, apperrors.ErrEmptyAnswer):
		return "The model returned an empty answer"
	case errors.Is(err, apperrors.ErrPartialStream):
		return "The answer stream was interrupted"
	default:
		return "The AI service is temporarily unavailable"
	}
}
