package errors

import (
	"errors"
	"fmt"
)

// Common error types for categorization and handling

var (
	// ErrInvalidInput indicates invalid caller input (missing field, bad body)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotConfigured indicates the upstream credential is missing
	ErrNotConfigured = errors.New("ai service not configured")

	// ErrLLMCommunication indicates LLM communication failed after retries
	ErrLLMCommunication = errors.New("llm communication failed")

	// ErrPartialStream indicates the upstream stream broke after output was relayed
	ErrPartialStream = errors.New("upstream stream interrupted")

	// ErrEmptyAnswer indicates the model produced nothing usable
	ErrEmptyAnswer = errors.New("empty answer from model")

	// ErrCatalogLoad indicates the artifact catalog could not be read
	ErrCatalogLoad = errors.New("catalog load failed")
)

// UpstreamStatusError records a non-2xx reply from the model provider.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamStatusError) Unwrap() error {
	return ErrLLMCommunication
}

// Retryable reports whether the status is worth another attempt.
func (e *UpstreamStatusError) Retryable() bool {
	return IsRetryableStatus(e.StatusCode)
}

// IsRetryableStatus is true for 5xx, 429 and 408.
func IsRetryableStatus(code int) bool {
	return code >= 500 || code == 429 || code == 408
}

// WrapError wraps an error with context message and stack
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsInvalidInput checks if error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsNotConfigured checks if error is a missing-credential error
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}

// IsEmptyAnswer checks if error is an empty-answer error
func IsEmptyAnswer(err error) bool {
	return errors.Is(err, ErrEmptyAnswer)
}

// StatusCode extracts the upstream status code, or 0.
func StatusCode(err error) int {
	var se *UpstreamStatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
