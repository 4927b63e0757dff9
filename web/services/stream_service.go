package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"museum-guide/web/types"

	"go.uber.org/zap"
)

// NDJSONContentType is the media type of the chat event stream.
const NDJSONContentType = "application/x-ndjson; charset=utf-8"

// StreamService writes caller-facing stream events as newline-delimited
// JSON, flushing after every line.
type StreamService struct {
	logger *zap.Logger
}

func NewStreamService(logger *zap.Logger) *StreamService {
	return &StreamService{
		logger: logger,
	}
}

// PrepareHeaders sets the stream headers. The status is fixed at 200 once
// they are sent; failures travel as error events.
func (ss *StreamService) PrepareHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", NDJSONContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// NewWriter binds an event writer to one response.
func (ss *StreamService) NewWriter(ctx context.Context, w http.ResponseWriter) *NDJSONWriter {
	return &NDJSONWriter{ctx: ctx, w: w, logger: ss.logger}
}

// NDJSONWriter serializes events onto a single response.
type NDJSONWriter struct {
	ctx     context.Context
	w       http.ResponseWriter
	mu      sync.Mutex
	logger  *zap.Logger
	written int
	closed  bool
}

// WriteEvent writes one event line. After a terminal event the writer
// refuses further events.
func (nw *NDJSONWriter) WriteEvent(ev types.StreamEvent) error {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	if nw.closed {
		return errStreamClosed
	}
	select {
	case <-nw.ctx.Done():
		return nw.ctx.Err()
	default:
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := nw.w.Write(line); err != nil {
		return err
	}
	if flusher, ok := nw.w.(http.Flusher); ok {
		flusher.Flush()
	}
	nw.written++
	if ev.Terminal() {
		nw.closed = true
	}
	return nil
}

// Written returns the number of events written so far.
func (nw *NDJSONWriter) Written() int {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	return nw.written
}

// Finished reports whether a terminal event was written.
func (nw *NDJSONWriter) Finished() bool {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	return nw.closed
}

type streamError string

func (e streamError) Error() string { return string(e) }

const errStreamClosed = streamError("stream already terminated")
