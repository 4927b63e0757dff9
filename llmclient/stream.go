package llmclient

import (
	"bytes"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

type streamChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// StreamFrame is one decoded "data:" payload of an event stream.
type StreamFrame struct {
	Model     string          `json:"model"`
	Choices   []streamChoice  `json:"choices"`
	Usage     *Usage          `json:"usage,omitempty"`
	WebSearch json.RawMessage `json:"web_search,omitempty"`
	Error     *providerError  `json:"error,omitempty"`
}

// Delta joins the text deltas of every choice in the frame.
func (f StreamFrame) Delta() string {
	if len(f.Choices) == 1 {
		return f.Choices[0].Delta.Content
	}
	var b strings.Builder
	for _, ch := range f.Choices {
		b.WriteString(ch.Delta.Content)
	}
	return b.String()
}

// Meta returns the non-text fields of the frame, if any are present.
func (f StreamFrame) Meta() (StreamMeta, bool) {
	meta := StreamMeta{Model: f.Model, Usage: f.Usage, WebSearch: f.WebSearch}
	return meta, meta.Model != "" || meta.Usage != nil || len(meta.WebSearch) > 0
}

// FrameDecoder splits an event stream into lines and decodes "data:"
// frames. Chunks may break anywhere, including inside a multi-byte rune.
// Blank lines, non-data lines and malformed JSON are skipped; "[DONE]"
// ends the stream.
type FrameDecoder struct {
	buf       []byte
	done      bool
	malformed int
	onFrame   func(StreamFrame)
	logger    *zap.Logger
}

func NewFrameDecoder(onFrame func(StreamFrame), logger *zap.Logger) *FrameDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FrameDecoder{onFrame: onFrame, logger: logger}
}

// Write appends a chunk and decodes every complete line in the buffer.
func (d *FrameDecoder) Write(p []byte) (int, error) {
	if d.done {
		return len(p), nil
	}
	d.buf = append(d.buf, p...)
	for !d.done {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(d.buf[:idx])
		d.buf = d.buf[idx+1:]
		d.processLine(line)
	}
	return len(p), nil
}

// Flush decodes a trailing line that was not newline-terminated.
func (d *FrameDecoder) Flush() {
	if len(d.buf) > 0 && !d.done {
		_, _ = d.Write([]byte("\n"))
	}
	d.buf = nil
}

// Done reports whether the "[DONE]" sentinel was seen.
func (d *FrameDecoder) Done() bool {
	return d.done
}

// Malformed returns how many data frames failed to decode.
func (d *FrameDecoder) Malformed() int {
	return d.malformed
}

func (d *FrameDecoder) processLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "data:") {
		return
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" {
		return
	}
	if data == "[DONE]" {
		d.done = true
		return
	}

	var frame StreamFrame
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		d.malformed++
		d.logger.Debug("Skipping malformed stream frame", zap.Error(err), zap.Int("length", len(data)))
		return
	}
	if d.onFrame != nil {
		d.onFrame(frame)
	}
}
