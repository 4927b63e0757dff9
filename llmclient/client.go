package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"museum-guide/config"
	apperrors "museum-guide/errors"
	"museum-guide/metrics"
	"museum-guide/utils"

	"go.uber.org/zap"
)

const (
	modeChat   = "chat"
	modeStream = "stream"

	maxErrorBodyRunes = 300
)

var errAttemptTimeout = errors.New("upstream attempt timed out")

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a client. Timeouts are enforced per attempt through the
// request context, so the underlying http.Client has none.
func New(cfg *config.Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger,
		sleep:      sleepContext,
	}
}

// WithMetrics attaches attempt counters.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Configured reports whether an API key is available.
func (c *Client) Configured() bool {
	return c.cfg != nil && c.cfg.HasAPIKey()
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.AIModel
}

// Chat performs a non-streaming completion with retries.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if !c.Configured() {
		return nil, apperrors.ErrNotConfigured
	}
	req.Stream = false
	body, err := c.encode(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts(); attempt++ {
		result, err := c.chatAttempt(ctx, body)
		if err == nil {
			c.metrics.UpstreamAttempt(modeChat, "ok")
			return result, nil
		}
		lastErr = err

		if stop := c.afterFailure(ctx, modeChat, attempt, err); stop {
			break
		}
	}
	return nil, c.finalError(ctx, lastErr)
}

// ChatStream performs a streaming completion, delivering deltas to the
// handlers as they arrive. An attempt that fails before any bytes arrive
// is retried; once output has been received the error is returned
// wrapped in ErrPartialStream.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, h StreamHandlers) error {
	if !c.Configured() {
		return apperrors.ErrNotConfigured
	}
	req.Stream = true
	body, err := c.encode(req)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts(); attempt++ {
		received, err := c.streamAttempt(ctx, body, h)
		if err == nil {
			c.metrics.UpstreamAttempt(modeStream, "ok")
			return nil
		}
		if received {
			c.metrics.UpstreamAttempt(modeStream, "partial")
			c.logger.Warn("Upstream stream interrupted after output", zap.Int("attempt", attempt), zap.Error(err))
			return fmt.Errorf("%w: %w", apperrors.ErrPartialStream, err)
		}
		lastErr = err

		if stop := c.afterFailure(ctx, modeStream, attempt, err); stop {
			break
		}
	}
	return c.finalError(ctx, lastErr)
}

// afterFailure records a failed attempt and sleeps before the next one.
// It returns true when no further attempt should be made.
func (c *Client) afterFailure(ctx context.Context, mode string, attempt int, err error) bool {
	if ctx.Err() != nil || !isRetryable(err) {
		c.metrics.UpstreamAttempt(mode, "error")
		return true
	}
	if attempt >= c.attempts() {
		c.metrics.UpstreamAttempt(mode, "error")
		return true
	}
	c.metrics.UpstreamAttempt(mode, "retry")

	delay := time.Duration(attempt) * c.cfg.RetryBackoff
	c.logger.Warn("Upstream call failed, retrying",
		zap.String("mode", mode),
		zap.Int("attempt", attempt),
		zap.Duration("backoff", delay),
		zap.Error(err))
	return c.sleep(ctx, delay) != nil
}

func (c *Client) finalError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, apperrors.ErrLLMCommunication) {
		return err
	}
	return fmt.Errorf("%w: %w", apperrors.ErrLLMCommunication, err)
}

func (c *Client) attempts() int {
	if c.cfg.MaxRetries < 1 {
		return 1
	}
	return c.cfg.MaxRetries
}

func (c *Client) encode(req ChatRequest) ([]byte, error) {
	if req.Model == "" {
		req.Model = c.cfg.AIModel
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	return body, nil
}

func (c *Client) endpoint() string {
	return strings.TrimRight(c.cfg.AIBaseURL, "/") + "/chat/completions"
}

func (c *Client) newRequest(ctx context.Context, body []byte, stream bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.AIAPIKey))
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

func (c *Client) chatAttempt(ctx context.Context, body []byte) (*ChatResult, error) {
	attemptCtx, cancel := context.WithTimeoutCause(ctx, c.cfg.LLMRequestTimeout, errAttemptTimeout)
	defer cancel()

	req, err := c.newRequest(attemptCtx, body, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, attemptError(attemptCtx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, attemptError(attemptCtx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperrors.UpstreamStatusError{
			StatusCode: resp.StatusCode,
			Body:       utils.ClipRunes(string(data), maxErrorBodyRunes),
		}
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("%w: decode chat response: %w", apperrors.ErrLLMCommunication, err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("%w: provider error: %s", apperrors.ErrLLMCommunication, cr.Error.Message)
	}
	result := &ChatResult{Model: cr.Model, Usage: cr.Usage, WebSearch: cr.WebSearch}
	if len(cr.Choices) > 0 {
		result.Content = cr.Choices[0].Message.Content.String()
	}
	return result, nil
}

// streamAttempt runs one streaming attempt. The request timeout bounds the
// wait for the next bytes; StreamMaxDuration bounds the whole attempt.
func (c *Client) streamAttempt(ctx context.Context, body []byte, h StreamHandlers) (received bool, err error) {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timeout := c.cfg.LLMRequestTimeout
	timer := time.AfterFunc(timeout, func() { cancel(errAttemptTimeout) })
	defer timer.Stop()
	if c.cfg.StreamMaxDuration > 0 {
		capTimer := time.AfterFunc(c.cfg.StreamMaxDuration, func() { cancel(errAttemptTimeout) })
		defer capTimer.Stop()
	}

	req, err := c.newRequest(attemptCtx, body, true)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, attemptError(attemptCtx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, &apperrors.UpstreamStatusError{
			StatusCode: resp.StatusCode,
			Body:       utils.ClipRunes(string(data), maxErrorBodyRunes),
		}
	}

	var frameErr error
	decoder := NewFrameDecoder(func(frame StreamFrame) {
		if frame.Error != nil && frameErr == nil {
			frameErr = fmt.Errorf("%w: provider error: %s", apperrors.ErrLLMCommunication, frame.Error.Message)
			return
		}
		if meta, ok := frame.Meta(); ok && h.OnMeta != nil {
			h.OnMeta(meta)
		}
		if delta := frame.Delta(); delta != "" && h.OnDelta != nil {
			h.OnDelta(delta)
		}
	}, c.logger)

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			received = true
			timer.Reset(timeout)
			_, _ = decoder.Write(buf[:n])
		}
		if frameErr != nil {
			return received, frameErr
		}
		if decoder.Done() {
			break
		}
		if readErr == io.EOF {
			decoder.Flush()
			break
		}
		if readErr != nil {
			return received, attemptError(attemptCtx, readErr)
		}
	}
	if frameErr != nil {
		return received, frameErr
	}
	if n := decoder.Malformed(); n > 0 {
		c.logger.Debug("Stream contained malformed frames", zap.Int("count", n))
	}
	return received, nil
}

// attemptError maps a per-attempt timeout to errAttemptTimeout so it is
// retried, while cancellation of the parent context is returned as is.
func attemptError(attemptCtx context.Context, err error) error {
	if errors.Is(context.Cause(attemptCtx), errAttemptTimeout) {
		return errAttemptTimeout
	}
	return err
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errAttemptTimeout) {
		return true
	}
	var statusErr *apperrors.UpstreamStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
