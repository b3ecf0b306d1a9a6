package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
)

func newOpenAITestServer(t *testing.T, handler func(w http.ResponseWriter, req openaiRequest)) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var req openaiRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		handler(w, req)
	}))
	t.Cleanup(srv.Close)

	return NewOpenAIProvider(config.ProviderConfig{
		Name:    "xai",
		Type:    "openai",
		BaseURL: srv.URL + "/",
		APIKey:  "test-key",
		Model:   "grok-4-fast",
	}, nil)
}

func writeSSE(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, l := range lines {
		fmt.Fprintf(w, "data: %s\n\n", l)
		w.(http.Flusher).Flush()
	}
}

func TestOpenAIStreamTokens(t *testing.T) {
	var got openaiRequest
	p := newOpenAITestServer(t, func(w http.ResponseWriter, req openaiRequest) {
		got = req
		writeSSE(w,
			`{"choices":[{"delta":{"role":"assistant"}}]}`,
			`{"choices":[{"delta":{"content":"Rec"}}]}`,
			`{"choices":[{"delta":{"content":"ursion"}}]}`,
			`{"choices":[{"delta":{"content":" is"}}]}`,
			`not json`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`,
			`[DONE]`,
		)
	})

	ch, err := p.StreamTokens(context.Background(), domain.PromptRequest{
		System:      "be brief",
		Prompt:      "Explain this term",
		MaxTokens:   300,
		Temperature: 0.3,
	})
	require.NoError(t, err)

	var tokens []string
	var usage *domain.Usage
	for d := range ch {
		require.NoError(t, d.Err)
		if d.Content != "" {
			tokens = append(tokens, d.Content)
		}
		if d.Usage != nil {
			usage = d.Usage
		}
	}

	assert.Equal(t, []string{"Rec", "ursion", " is"}, tokens, "token boundaries are preserved")
	require.NotNil(t, usage)
	assert.Equal(t, 15, usage.TotalTokens)

	assert.Equal(t, "grok-4-fast", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, 300, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.3, *got.Temperature, 1e-9)
}

func TestOpenAIOmitsEmptySystemPrompt(t *testing.T) {
	var got openaiRequest
	p := newOpenAITestServer(t, func(w http.ResponseWriter, req openaiRequest) {
		got = req
		writeSSE(w, `[DONE]`)
	})
	ch, err := p.StreamTokens(context.Background(), domain.PromptRequest{Prompt: "hi", Model: "grok-3"})
	require.NoError(t, err)
	_, streamErr := drain(t, ch)
	require.NoError(t, streamErr)

	require.Len(t, got.Messages, 1)
	assert.Equal(t, "grok-3", got.Model)
	assert.Nil(t, got.Temperature)
}

func TestOpenAIOpenFailureMapsStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusServiceUnavailable, domain.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newOpenAITestServer(t, func(w http.ResponseWriter, _ openaiRequest) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			})
			_, err := p.StreamTokens(context.Background(), domain.PromptRequest{Prompt: "x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpenAIMidStreamError(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, _ openaiRequest) {
		writeSSE(w,
			`{"choices":[{"delta":{"content":"partial"}}]}`,
			`{"error":{"message":"model overloaded","type":"server_error"}}`,
			`{"choices":[{"delta":{"content":"never"}}]}`,
		)
	})

	ch, err := p.StreamTokens(context.Background(), domain.PromptRequest{Prompt: "x"})
	require.NoError(t, err)
	tokens, streamErr := drain(t, ch)

	assert.Equal(t, []string{"partial"}, tokens)
	require.Error(t, streamErr)
	assert.ErrorIs(t, streamErr, domain.ErrProviderError)
	assert.Contains(t, streamErr.Error(), "model overloaded")
}

func TestOpenAICancelledBeforeOpen(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, _ openaiRequest) {
		writeSSE(w, `[DONE]`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.StreamTokens(ctx, domain.PromptRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, domain.IsCancellation(err))
}

func TestParseOpenAIChunk(t *testing.T) {
	d, err := parseOpenAIChunk([]byte(`{"choices":[{"delta":{}}]}`))
	require.NoError(t, err)
	assert.Nil(t, d, "empty chunks are skipped")

	_, err = parseOpenAIChunk([]byte(`{`))
	assert.Error(t, err)

	d, err = parseOpenAIChunk([]byte(`{"error":{"type":"rate_limit"}}`))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Contains(t, d.Err.Error(), "rate_limit")
}
