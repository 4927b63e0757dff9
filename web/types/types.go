package types

import "encoding/json"

// HistoryItem is one prior message supplied by the caller.
type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of /api/ai/chat and /api/ai/chat-stream.
type ChatRequest struct {
	Question     string        `json:"question"`
	Scope        string        `json:"scope,omitempty"`
	ArtifactID   string        `json:"artifactId,omitempty"`
	ArtifactName string        `json:"artifactName,omitempty"`
	ContextText  string        `json:"contextText,omitempty"`
	ImageDataURL string        `json:"imageDataUrl,omitempty"`
	History      []HistoryItem `json:"history,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is returned by the batch chat endpoint.
type ChatResponse struct {
	Answer    string          `json:"answer"`
	Model     string          `json:"model"`
	Usage     *Usage          `json:"usage"`
	WebSearch json.RawMessage `json:"web_search"`
}

// Stream event types.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// StreamEvent is one NDJSON line of /api/ai/chat-stream. A stream carries
// any number of delta events followed by exactly one done or error event.
// Answer on a delta event is the cumulative text so far.
type StreamEvent struct {
	Type   string `json:"type"`
	Delta  string `json:"delta,omitempty"`
	Answer string `json:"answer,omitempty"`
	Model  string `json:"model,omitempty"`
	Error  string `json:"error,omitempty"`
}

func DeltaEvent(delta, answer string) StreamEvent {
	return StreamEvent{Type: EventDelta, Delta: delta, Answer: answer}
}

func DoneEvent(answer, model string) StreamEvent {
	return StreamEvent{Type: EventDone, Answer: answer, Model: model}
}

func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Error: message}
}

// Terminal reports whether the event ends a stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// EnrichRequest is the body of /api/ai/enrich.
type EnrichRequest struct {
	Question     string `json:"question"`
	Answer       string `json:"answer"`
	Scope        string `json:"scope,omitempty"`
	ArtifactID   string `json:"artifactId,omitempty"`
	ArtifactName string `json:"artifactName,omitempty"`
	ContextText  string `json:"contextText,omitempty"`
}

type Recommendation struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Series string  `json:"series,omitempty"`
	Reason string  `json:"reason"`
	Score  float64 `json:"score"`
}

// Citation source types.
const (
	SourceCatalog = "catalog"
	SourcePDF     = "pdf"
	SourceContext = "context"
)

type Citation struct {
	ArtifactID string `json:"artifactId"`
	Title      string `json:"title"`
	Excerpt    string `json:"excerpt"`
	SourceType string `json:"sourceType"`
}

type EnrichResponse struct {
	Recommendations []Recommendation `json:"recommendations"`
	Citations       []Citation       `json:"citations"`
}

// WishCandidate is an artifact the caller offers for a wish pick.
type WishCandidate struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Series   string   `json:"series,omitempty"`
	PDFTopic string   `json:"pdfTopic,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type WishRequest struct {
	Wish       string          `json:"wish"`
	Candidates []WishCandidate `json:"candidates"`
}

type WishResponse struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type ConfiguredStatus struct {
	HasAPIKey bool   `json:"hasApiKey"`
	BaseURL   string `json:"baseUrl"`
	Model     string `json:"model"`
}

type HealthResponse struct {
	OK          bool             `json:"ok"`
	Configured  ConfiguredStatus `json:"configured"`
	CatalogSize int              `json:"catalogSize"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}
