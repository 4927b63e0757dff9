package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"museum-guide/config"
	apperrors "museum-guide/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, url string) (*Client, *[]time.Duration) {
	t.Helper()
	cfg := config.Default()
	cfg.AIAPIKey = "test-key"
	cfg.AIBaseURL = url
	cfg.MaxRetries = 3
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.LLMRequestTimeout = 2 * time.Second

	var sleeps []time.Duration
	c := New(cfg, nil)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return c, &sleeps
}

func userRequest(text string) ChatRequest {
	return ChatRequest{Messages: []Message{{Role: "user", Content: TextContent(text)}}}
}

func TestChatNotConfigured(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	c.cfg.AIAPIKey = "  "

	_, err := c.Chat(context.Background(), userRequest("hi"))
	assert.ErrorIs(t, err, apperrors.ErrNotConfigured)

	err = c.ChatStream(context.Background(), userRequest("hi"), StreamHandlers{})
	assert.ErrorIs(t, err, apperrors.ErrNotConfigured)
	assert.Zero(t, hits.Load(), "no network call without credentials")
}

func TestChatSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "glm-4-flash", req.Model)

		fmt.Fprint(w, `{"model":"glm-4-flash","choices":[{"message":{"role":"assistant","content":"你好"}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5},"web_search":[{"title":"x"}]}`)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	res, err := c.Chat(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "你好", res.Content)
	assert.Equal(t, "glm-4-flash", res.Model)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 5, res.Usage.TotalTokens)
	assert.JSONEq(t, `[{"title":"x"}]`, string(res.WebSearch))
}

func TestChatRetries(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantErr   bool
		wantCalls int32
		wantSleep []time.Duration
	}{
		{
			name:      "recovers after 503",
			statuses:  []int{503, 200},
			wantCalls: 2,
			wantSleep: []time.Duration{10 * time.Millisecond},
		},
		{
			name:      "429 then 408 then ok uses linear backoff",
			statuses:  []int{429, 408, 200},
			wantCalls: 3,
			wantSleep: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
		},
		{
			name:      "gives up at the attempt cap",
			statuses:  []int{500, 502, 504, 200},
			wantErr:   true,
			wantCalls: 3,
			wantSleep: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
		},
		{
			name:      "400 is not retried",
			statuses:  []int{400, 200},
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				status := tt.statuses[n-1]
				if status != http.StatusOK {
					http.Error(w, "busy", status)
					return
				}
				fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
			}))
			defer srv.Close()

			c, sleeps := testClient(t, srv.URL)
			res, err := c.Chat(context.Background(), userRequest("hi"))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrLLMCommunication)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "ok", res.Content)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Equal(t, tt.wantSleep, *sleeps)
		})
	}
}

func TestChatStatusErrorCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	_, err := c.Chat(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, apperrors.StatusCode(err))
}

func TestChatCancelledContextStopsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.Chat(ctx, userRequest("hi"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatAttemptTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"late but fine"}}]}`)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	c.cfg.LLMRequestTimeout = 50 * time.Millisecond

	res, err := c.Chat(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "late but fine", res.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func sseBody(frames ...string) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString("data: ")
		b.WriteString(f)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestChatStreamDeliversDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n")
		fmt.Fprint(w, sseBody(
			`{"model":"glm-4-flash","choices":[{"delta":{"content":"先看"}}]}`,
			`{not json`,
			`{"choices":[{"delta":{"content":"武梁祠"}}]}`,
			`{"choices":[{"delta":{}}],"usage":{"total_tokens":9}}`,
			`[DONE]`,
			`{"choices":[{"delta":{"content":"ignored"}}]}`,
		))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	var deltas []string
	var metas []StreamMeta
	err := c.ChatStream(context.Background(), userRequest("hi"), StreamHandlers{
		OnDelta: func(text string) { deltas = append(deltas, text) },
		OnMeta:  func(meta StreamMeta) { metas = append(metas, meta) },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"先看", "武梁祠"}, deltas)
	require.Len(t, metas, 2)
	assert.Equal(t, "glm-4-flash", metas[0].Model)
	assert.Equal(t, 9, metas[1].Usage.TotalTokens)
}

func TestChatStreamRetriesBeforeFirstChunk(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, sseBody(`{"choices":[{"delta":{"content":"ok"}}]}`, `[DONE]`))
	}))
	defer srv.Close()

	c, sleeps := testClient(t, srv.URL)
	var got strings.Builder
	err := c.ChatStream(context.Background(), userRequest("hi"), StreamHandlers{
		OnDelta: func(text string) { got.WriteString(text) },
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got.String())
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, *sleeps, 1)
}

func TestChatStreamDoesNotRetryAfterOutput(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(`{"choices":[{"delta":{"content":"半句"}}]}`))
		w.(http.Flusher).Flush()

		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	var deltas []string
	err := c.ChatStream(context.Background(), userRequest("hi"), StreamHandlers{
		OnDelta: func(text string) { deltas = append(deltas, text) },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPartialStream)
	assert.Equal(t, []string{"半句"}, deltas)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatStreamTricklingStreamHitsAttemptCap(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, sseBody(`{"choices":[{"delta":{"content":"慢"}}]}`))
				w.(http.Flusher).Flush()
			}
		}
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	c.cfg.LLMRequestTimeout = time.Second
	c.cfg.StreamMaxDuration = 100 * time.Millisecond

	start := time.Now()
	var deltas atomic.Int32
	err := c.ChatStream(context.Background(), userRequest("hi"), StreamHandlers{
		OnDelta: func(string) { deltas.Add(1) },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPartialStream)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Positive(t, deltas.Load())
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatStreamProviderErrorFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseBody(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	err := c.ChatStream(context.Background(), userRequest("hi"), StreamHandlers{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestRequestEncoding(t *testing.T) {
	temp := 0.4
	req := ChatRequest{
		Model: "m",
		Messages: []Message{
			{Role: "system", Content: TextContent("sys")},
			{Role: "user", Content: PartsContent(
				ContentPart{Type: "text", Text: "这是什么"},
				ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: "https://example.com/a.png"}},
			)},
		},
		Temperature:    &temp,
		Tools:          []Tool{NewWebSearchTool()},
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"model":"m",
		"stream":false,
		"temperature":0.4,
		"messages":[
			{"role":"system","content":"sys"},
			{"role":"user","content":[
				{"type":"text","text":"这是什么"},
				{"type":"image_url","image_url":{"url":"https://example.com/a.png"}}
			]}
		],
		"tools":[{"type":"web_search","web_search":{"enable":true,"search_result":true}}],
		"response_format":{"type":"json_object"}
	}`, string(data))
	assert.True(t, req.HasWebSearch())
	assert.Equal(t, "这是什么", req.Messages[1].Content.String())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errAttemptTimeout))
	assert.True(t, isRetryable(&apperrors.UpstreamStatusError{StatusCode: 502}))
	assert.True(t, isRetryable(io.ErrUnexpectedEOF))
	assert.False(t, isRetryable(&apperrors.UpstreamStatusError{StatusCode: 401}))
	assert.False(t, isRetryable(context.Canceled))
	assert.False(t, isRetryable(nil))
}
