package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMessages serves the Messages endpoint. It records each request body
// and answers with status and payload.
type fakeMessages struct {
	status  int
	payload map[string]any
	calls   atomic.Int32

	mu   sync.Mutex
	last map[string]any
}

func (f *fakeMessages) body() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeMessages) start(t *testing.T) Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.last = body
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(f.payload)
	}))
	t.Cleanup(ts.Close)
	return NewClient("test-key", option.WithBaseURL(ts.URL))
}

func comparablesReply(text string, usage map[string]any) map[string]any {
	return map[string]any{
		"id":          "msg_comps_1",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": "end_turn",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       usage,
	}
}

func apiError(kind, msg string) map[string]any {
	return map[string]any{"type": "error", "error": map[string]any{"type": kind, "message": msg}}
}

func TestSDKClient_CreateMessage(t *testing.T) {
	fake := &fakeMessages{
		status: http.StatusOK,
		payload: comparablesReply(`{"comparables":[]}`, map[string]any{
			"input_tokens": 10, "output_tokens": 5,
		}),
	}
	client := fake.start(t)

	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Prompt:    "Find up to 8 comparables for Acme HVAC",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_comps_1", resp.ID)
	assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)
	assert.Equal(t, `{"comparables":[]}`, resp.Text)
	assert.False(t, resp.Truncated())
	assert.Equal(t, TokenUsage{InputTokens: 10, OutputTokens: 5}, resp.Usage)

	body := fake.body()
	assert.NotContains(t, body, "system")
	msgs, _ := body["messages"].([]any)
	assert.Len(t, msgs, 1)
}

func TestSDKClient_CreateMessage_CachedSystem(t *testing.T) {
	fake := &fakeMessages{
		status: http.StatusOK,
		payload: comparablesReply(`{"comparables":[]}`, map[string]any{
			"input_tokens": 50, "output_tokens": 3, "cache_creation_input_tokens": 5000,
		}),
	}
	client := fake.start(t)

	temp := 0.5
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   128,
		System:      "You identify comparable companies.",
		CacheTTL:    "1h",
		Prompt:      "Acme HVAC",
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), resp.Usage.CacheCreationInputTokens)

	body := fake.body()
	system, _ := body["system"].([]any)
	require.Len(t, system, 1)
	block, _ := system[0].(map[string]any)
	assert.Equal(t, "You identify comparable companies.", block["text"])
	cc, _ := block["cache_control"].(map[string]any)
	assert.Equal(t, "1h", cc["ttl"])
	assert.InDelta(t, 0.5, body["temperature"], 1e-9)
}

func TestSDKClient_CreateMessage_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   string
	}{
		{"server error", http.StatusInternalServerError, "api_error"},
		{"rate limited", http.StatusTooManyRequests, "rate_limit_error"},
		{"bad request", http.StatusBadRequest, "invalid_request_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeMessages{status: tt.status, payload: apiError(tt.kind, "nope")}
			client := fake.start(t)

			_, err := client.CreateMessage(context.Background(), MessageRequest{
				Model: "claude-sonnet-4-5-20250929", MaxTokens: 16, Prompt: "Acme HVAC",
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "anthropic: create message")

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			// retries belong to the caller
			assert.Equal(t, int32(1), fake.calls.Load())
		})
	}
}

func TestSDKClient_CreateMessage_EmptyPromptSkipsNetwork(t *testing.T) {
	fake := &fakeMessages{status: http.StatusOK}
	client := fake.start(t)

	_, err := client.CreateMessage(context.Background(), MessageRequest{Model: "m", MaxTokens: 16})
	require.Error(t, err)
	assert.Zero(t, fake.calls.Load())
}
