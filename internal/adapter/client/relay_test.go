package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spanlight/internal/adapter/relay"
	"spanlight/internal/adapter/sse"
	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
	"spanlight/internal/infra/logger"
)

func collect(t *testing.T, ch <-chan domain.StreamEvent) []domain.StreamEvent {
	t.Helper()
	var out []domain.StreamEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return nil
		}
	}
}

// fragmentedRelay writes a fixed stream in awkward pieces, flushing each.
func fragmentedRelay(t *testing.T, wantPath string, gotBody *map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		if gotBody != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(gotBody))
		}
		sse.SetHeaders(w.Header())
		f := w.(http.Flusher)
		for _, part := range []string{"data: {\"to", "ken\":\"Hel", "lo\"}\n\ndata: {\"token\":\" there\"}\n", "\ndata: [", "DONE]\n\n"} {
			_, _ = w.Write([]byte(part))
			f.Flush()
		}
	}))
}

func TestStreamChatDecodesFragmentedFrames(t *testing.T) {
	var body map[string]string
	srv := fragmentedRelay(t, "/api/chat", &body)
	defer srv.Close()

	c := NewRelayClient(srv.URL+"/", srv.Client(), logger.Discard())
	ch, err := c.StreamChat(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, []domain.StreamEvent{
		domain.TokenEvent("Hello"),
		domain.TokenEvent(" there"),
		domain.DoneEvent(),
	}, collect(t, ch))
	assert.Equal(t, "hi", body["message"])
}

func TestExplainSendsSpanAndContext(t *testing.T) {
	var body map[string]string
	srv := fragmentedRelay(t, "/api/explain", &body)
	defer srv.Close()

	c := NewRelayClient(srv.URL, srv.Client(), nil)
	ch, err := c.Explain(context.Background(), "closure", "")
	require.NoError(t, err)
	collect(t, ch)

	assert.Equal(t, "closure", body["spanText"])
	v, ok := body["context"]
	assert.True(t, ok, "context key must be sent even when empty")
	assert.Empty(t, v)
}

func TestRejectionCarriesRelayMessage(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
		msg    string
	}{
		{"bad request", http.StatusBadRequest, `{"error":"spanText and context required"}`, domain.ErrInvalidInput, "spanText and context required"},
		{"rate limited", http.StatusTooManyRequests, `{"error":"rate limit exceeded"}`, domain.ErrRateLimit, "rate limit exceeded"},
		{"server error", http.StatusBadGateway, `oops`, domain.ErrProviderError, "oops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewRelayClient(srv.URL, srv.Client(), nil).Explain(context.Background(), "x", "y")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRejectionKeepsRelayCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"message required","code":"RELAY_CHAT_INVALID"}`))
	}))
	defer srv.Close()

	_, err := NewRelayClient(srv.URL, srv.Client(), nil).StreamChat(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, domain.CodeChatInvalid, domain.ErrorCodeOf(err))

	// Replies without a code fall back to the generic one.
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv2.Close()
	_, err = NewRelayClient(srv2.URL, srv2.Client(), nil).StreamChat(context.Background(), "hi")
	assert.Equal(t, domain.CodeInvalidInput, domain.ErrorCodeOf(err))
}

func TestCancelAbortsStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse.SetHeaders(w.Header())
		_, _ = w.Write(sse.EncodeToken("first"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewRelayClient(srv.URL, srv.Client(), nil).StreamChat(ctx, "hi")
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, domain.TokenEvent("first"), first)
	cancel()

	// Cancellation closes the channel without an error event.
	for ev := range ch {
		assert.NotEqual(t, domain.EventError, ev.Kind)
	}
}

func TestUnreachableRelay(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewRelayClient(url, nil, nil).StreamChat(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamFailure)
}

type echoStreamer struct{}

func (echoStreamer) Name() string { return "echo" }

func (echoStreamer) StreamTokens(_ context.Context, req domain.PromptRequest) (<-chan domain.StreamDelta, error) {
	ch := make(chan domain.StreamDelta, 2)
	ch <- domain.StreamDelta{Content: "echo: "}
	ch <- domain.StreamDelta{Content: req.Prompt}
	close(ch)
	return ch, nil
}

func TestAgainstRelay(t *testing.T) {
	srv, err := relay.NewServer(relay.Options{
		Server:   config.ServerConfig{AllowedOrigins: []string{"*"}, MaxBodyBytes: 1 << 16},
		Streamer: echoStreamer{},
		Logger:   logger.Discard(),
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts := httptest.NewServer(srv.Handler(ctx))
	defer ts.Close()

	c := NewRelayClient(ts.URL, ts.Client(), nil)
	require.NoError(t, c.Health(ctx))

	ch, err := c.StreamChat(ctx, "ping")
	require.NoError(t, err)
	assert.Equal(t, []domain.StreamEvent{
		domain.TokenEvent("echo: "),
		domain.TokenEvent("ping"),
		domain.DoneEvent(),
	}, collect(t, ch))

	ch, err = c.Explain(ctx, "recursion", "see recursion")
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, relay.ExplainPrompt("recursion", "see recursion"), events[1].Token)

	_, err = c.StreamChat(ctx, "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
