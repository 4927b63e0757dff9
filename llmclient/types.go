package llmclient

import (
	"encoding/json"
	"strings"
)

// ImageURL points at an image, either an https link or a data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multi-part user message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// MessageContent is either plain text or a list of parts. It marshals to a
// JSON string when no parts are set.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts}
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if len(c.Parts) > 0 {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		c.Text = ""
		return json.Unmarshal(data, &c.Parts)
	}
	c.Parts = nil
	if string(data) == "null" {
		c.Text = ""
		return nil
	}
	return json.Unmarshal(data, &c.Text)
}

// String returns the textual content, joining text parts.
func (c MessageContent) String() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	var texts []string
	for _, p := range c.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Message is one chat message in the provider's wire format.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// WebSearchTool enables the provider's built-in web search.
type WebSearchTool struct {
	Enable       bool `json:"enable"`
	SearchResult bool `json:"search_result"`
}

type Tool struct {
	Type      string         `json:"type"`
	WebSearch *WebSearchTool `json:"web_search,omitempty"`
}

// NewWebSearchTool returns the tool block that turns on web search.
func NewWebSearchTool() Tool {
	return Tool{Type: "web_search", WebSearch: &WebSearchTool{Enable: true, SearchResult: true}}
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatRequest is the chat completions request body.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    *float64        `json:"temperature,omitempty"`
	Tools          []Tool          `json:"tools,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// HasWebSearch reports whether the request carries the web search tool.
func (r *ChatRequest) HasWebSearch() bool {
	for _, t := range r.Tools {
		if t.Type == "web_search" {
			return true
		}
	}
	return false
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResult is a decoded non-streaming reply.
type ChatResult struct {
	Content   string
	Model     string
	Usage     *Usage
	WebSearch json.RawMessage
}

// StreamMeta carries non-text fields seen on stream frames.
type StreamMeta struct {
	Model     string
	Usage     *Usage
	WebSearch json.RawMessage
}

// StreamHandlers receive streamed output in arrival order.
type StreamHandlers struct {
	OnDelta func(text string)
	OnMeta  func(meta StreamMeta)
}

type providerError struct {
	Message string `json:"message"`
	Code    any    `json:"code,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string         `json:"role"`
			Content MessageContent `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage     *Usage          `json:"usage,omitempty"`
	WebSearch json.RawMessage `json:"web_search,omitempty"`
	Error     *providerError  `json:"error,omitempty"`
}
