package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
	"spanlight/internal/infra/logger"
	"spanlight/internal/infra/metrics"
)

// --- test doubles ---

type scriptStreamer struct {
	mu      sync.Mutex
	deltas  []domain.StreamDelta
	openErr error
	hold    bool // keep the stream open until ctx ends
	calls   int
	last    domain.PromptRequest
}

func (f *scriptStreamer) Name() string { return "script" }

func (f *scriptStreamer) StreamTokens(ctx context.Context, req domain.PromptRequest) (<-chan domain.StreamDelta, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	ch := make(chan domain.StreamDelta)
	go func() {
		defer close(ch)
		for _, d := range f.deltas {
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
		}
		if f.hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (f *scriptStreamer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptStreamer) Last() domain.PromptRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func tokens(parts ...string) []domain.StreamDelta {
	out := make([]domain.StreamDelta, 0, len(parts))
	for _, p := range parts {
		out = append(out, domain.StreamDelta{Content: p})
	}
	return out
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   1024,
	}
}

func newTestRelay(t *testing.T, st domain.TokenStreamer, mutate func(*Options)) *httptest.Server {
	t.Helper()
	opts := Options{
		Server:   testServerConfig(),
		Chat:     config.PromptConfig{SystemPrompt: "chat system", MaxTokens: 1024, Temperature: 0.7},
		Explain:  config.PromptConfig{SystemPrompt: "explain system", MaxTokens: 300, Temperature: 0.3},
		Streamer: st,
		Logger:   logger.Discard(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv, err := NewServer(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

// --- streaming ---

func TestChatStreamsTokensThenDone(t *testing.T) {
	st := &scriptStreamer{deltas: tokens("Hel", "lo", " world")}
	ts := newTestRelay(t, st, nil)

	resp, body := post(t, ts.URL+"/api/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t,
		"data: {\"token\":\"Hel\"}\n\n"+
			"data: {\"token\":\"lo\"}\n\n"+
			"data: {\"token\":\" world\"}\n\n"+
			"data: [DONE]\n\n",
		body)

	last := st.Last()
	assert.Equal(t, "hi", last.Prompt)
	assert.Equal(t, "chat system", last.System)
	assert.Equal(t, 1024, last.MaxTokens)
}

func TestExplainBuildsPrompt(t *testing.T) {
	st := &scriptStreamer{deltas: tokens("A closure captures variables.")}
	ts := newTestRelay(t, st, nil)

	resp, body := post(t, ts.URL+"/api/explain", `{"spanText":" closure ","context":"functions in Go"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	last := st.Last()
	assert.Equal(t, "Explain this term: \"closure\"\n\nContext: functions in Go", last.Prompt)
	assert.Equal(t, "explain system", last.System)
	assert.Equal(t, 300, last.MaxTokens)
	assert.InDelta(t, 0.3, last.Temperature, 1e-9)
}

func TestExplainAcceptsEmptyContext(t *testing.T) {
	st := &scriptStreamer{deltas: tokens("x")}
	ts := newTestRelay(t, st, nil)

	resp, _ := post(t, ts.URL+"/api/explain", `{"spanText":"monad","context":""}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, st.Calls())
}

func TestUpstreamOpenFailureIsSingleErrorFrame(t *testing.T) {
	st := &scriptStreamer{openErr: errors.New("upstream unavailable")}
	ts := newTestRelay(t, st, nil)

	resp, body := post(t, ts.URL+"/api/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "data: {\"error\":\"upstream unavailable\"}\n\n", body)
}

func TestMidStreamFailureEndsWithErrorOnly(t *testing.T) {
	st := &scriptStreamer{deltas: []domain.StreamDelta{
		{Content: "partial"},
		{Err: errors.New("connection reset")},
	}}
	ts := newTestRelay(t, st, nil)

	_, body := post(t, ts.URL+"/api/chat", `{"message":"hi"}`)
	assert.Equal(t,
		"data: {\"token\":\"partial\"}\n\n"+
			"data: {\"error\":\"connection reset\"}\n\n",
		body)
	assert.NotContains(t, body, "[DONE]")
}

func TestEmptyDeltasAreNotFramed(t *testing.T) {
	st := &scriptStreamer{deltas: []domain.StreamDelta{
		{Content: ""},
		{Content: "a"},
		{Usage: &domain.Usage{CompletionTokens: 1}},
		{Content: "b"},
	}}
	ts := newTestRelay(t, st, nil)

	_, body := post(t, ts.URL+"/api/chat", `{"message":"hi"}`)
	assert.Equal(t, "data: {\"token\":\"a\"}\n\ndata: {\"token\":\"b\"}\n\ndata: [DONE]\n\n", body)
}

func TestTokensAreNotEscapedForHTML(t *testing.T) {
	st := &scriptStreamer{deltas: tokens("<b>&</b>", "line\nbreak")}
	ts := newTestRelay(t, st, nil)

	_, body := post(t, ts.URL+"/api/chat", `{"message":"hi"}`)
	assert.Contains(t, body, `data: {"token":"<b>&</b>"}`)
	assert.Contains(t, body, `data: {"token":"line\nbreak"}`)
}

func TestStreamTimeoutFramesError(t *testing.T) {
	st := &scriptStreamer{deltas: tokens("slow"), hold: true}
	ts := newTestRelay(t, st, func(o *Options) { o.Server.StreamTimeout = 50 * time.Millisecond })

	_, body := post(t, ts.URL+"/api/chat", `{"message":"hi"}`)
	require.True(t, strings.HasPrefix(body, "data: {\"token\":\"slow\"}\n\n"))
	assert.Contains(t, body, "data: {\"error\":")
	assert.Contains(t, body, "timed out")
	assert.NotContains(t, body, "[DONE]")
}

// --- validation ---

func TestValidationRejects(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantBody string
	}{
		{"explain empty object", "/api/explain", `{}`, 400, `{"error":"spanText and context required","code":"RELAY_EXPLAIN_INVALID"}`},
		{"explain empty body", "/api/explain", ``, 400, `{"error":"spanText and context required","code":"RELAY_EXPLAIN_INVALID"}`},
		{"explain missing context", "/api/explain", `{"spanText":"x"}`, 400, `{"error":"spanText and context required","code":"RELAY_EXPLAIN_INVALID"}`},
		{"explain blank span", "/api/explain", `{"spanText":"  ","context":"c"}`, 400, `{"error":"spanText and context required","code":"RELAY_EXPLAIN_INVALID"}`},
		{"chat empty object", "/api/chat", `{}`, 400, `{"error":"message required","code":"RELAY_CHAT_INVALID"}`},
		{"chat empty body", "/api/chat", ``, 400, `{"error":"message required","code":"RELAY_CHAT_INVALID"}`},
		{"chat blank message", "/api/chat", `{"message":"   "}`, 400, `{"error":"message required","code":"RELAY_CHAT_INVALID"}`},
		{"malformed json", "/api/chat", `{"message":`, 400, `{"error":"invalid JSON body","code":"INVALID_INPUT"}`},
		{"too large", "/api/chat", `{"message":"` + strings.Repeat("a", 2048) + `"}`, 413, `{"error":"request body too large","code":"BODY_TOO_LARGE"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &scriptStreamer{deltas: tokens("never")}
			ts := newTestRelay(t, st, nil)

			resp, body := post(t, ts.URL+tt.path, tt.body)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.JSONEq(t, tt.wantBody, body)
			assert.Zero(t, st.Calls(), "upstream must not be opened")
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	st := &scriptStreamer{}
	ts := newTestRelay(t, st, nil)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		for _, path := range []string{"/api/chat", "/api/explain"} {
			req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(`{"message":"hi"}`))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, "%s %s", method, path)
			assert.JSONEq(t, `{"error":"method not allowed","code":"METHOD_NOT_ALLOWED"}`, string(raw))
		}
	}
	assert.Zero(t, st.Calls())
}

func TestPreflight(t *testing.T) {
	ts := newTestRelay(t, &scriptStreamer{}, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/explain", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestHealth(t *testing.T) {
	ts := newTestRelay(t, &scriptStreamer{}, nil)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestNewServerRequiresStreamer(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

// --- observability ---

func TestMetricsRecorded(t *testing.T) {
	m := metrics.New()
	st := &scriptStreamer{deltas: tokens("a", "b")}
	ts := newTestRelay(t, st, func(o *Options) {
		o.Observer = m
		o.MetricsPath = "/metrics"
		o.MetricsHandler = m.Handler()
	})

	post(t, ts.URL+"/api/chat", `{"message":"hi"}`)
	post(t, ts.URL+"/api/explain", `{}`)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesEmitted.WithLabelValues("chat", "token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesEmitted.WithLabelValues("chat", "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestCount.WithLabelValues("chat", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestCount.WithLabelValues("explain", "400")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveStreams))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "spanlight_relay_frames_total")
}

// --- websocket ---

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func readFrames(t *testing.T, ws *websocket.Conn, id uint64) []WSFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var out []WSFrame
	for {
		var f WSFrame
		require.NoError(t, wsjson.Read(ctx, ws, &f))
		if f.ID != id {
			continue
		}
		out = append(out, f)
		if f.Done || f.Error != nil {
			return out
		}
	}
}

func TestWebSocketStreams(t *testing.T) {
	st := &scriptStreamer{deltas: tokens("to", "ken")}
	ts := newTestRelay(t, st, func(o *Options) { o.Server.WebSocket.Enabled = true })
	ws := dialWS(t, ts)

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, ws, WSRequest{ID: 7, Endpoint: "chat", Message: "hi"}))

	frames := readFrames(t, ws, 7)
	require.Len(t, frames, 3)
	assert.Equal(t, "to", *frames[0].Token)
	assert.Equal(t, "ken", *frames[1].Token)
	assert.True(t, frames[2].Done)
}

func TestWebSocketRejectsInvalid(t *testing.T) {
	st := &scriptStreamer{}
	ts := newTestRelay(t, st, func(o *Options) { o.Server.WebSocket.Enabled = true })
	ws := dialWS(t, ts)

	require.NoError(t, wsjson.Write(context.Background(), ws, WSRequest{ID: 1, Endpoint: "explain", SpanText: "x"}))
	frames := readFrames(t, ws, 1)
	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].Error)
	assert.Equal(t, "spanText and context required", *frames[0].Error)
	assert.Equal(t, domain.CodeExplainInvalid, frames[0].Code)
	assert.Zero(t, st.Calls())
}

func TestWebSocketNewRequestSupersedes(t *testing.T) {
	st := &scriptStreamer{deltas: tokens("first"), hold: true}
	ts := newTestRelay(t, st, func(o *Options) { o.Server.WebSocket.Enabled = true })
	ws := dialWS(t, ts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, ws, WSRequest{ID: 1, Endpoint: "chat", Message: "one"}))
	var f WSFrame
	require.NoError(t, wsjson.Read(ctx, ws, &f))
	require.Equal(t, uint64(1), f.ID)
	require.NotNil(t, f.Token)

	// Request 2 cancels request 1, whose frames stop arriving.
	require.NoError(t, wsjson.Write(ctx, ws, WSRequest{ID: 2, Endpoint: "chat", Message: "two"}))
	require.NoError(t, wsjson.Read(ctx, ws, &f))
	assert.Equal(t, uint64(2), f.ID)
	require.NotNil(t, f.Token)
	assert.Equal(t, "first", *f.Token)
}

// gatedStreamer sends "a", then waits for release before sending "b". It
// reports a stream cancelled before release on cancelled.
type gatedStreamer struct {
	release   chan struct{}
	cancelled chan struct{}
}

func newGatedStreamer() *gatedStreamer {
	return &gatedStreamer{release: make(chan struct{}), cancelled: make(chan struct{}, 1)}
}

func (g *gatedStreamer) Name() string { return "gated" }

func (g *gatedStreamer) StreamTokens(ctx context.Context, _ domain.PromptRequest) (<-chan domain.StreamDelta, error) {
	ch := make(chan domain.StreamDelta)
	go func() {
		defer close(ch)
		select {
		case ch <- domain.StreamDelta{Content: "a"}:
		case <-ctx.Done():
			return
		}
		select {
		case <-g.release:
		case <-ctx.Done():
			g.cancelled <- struct{}{}
			return
		}
		select {
		case ch <- domain.StreamDelta{Content: "b"}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func TestWebSocketCancelIgnoresOtherIDs(t *testing.T) {
	st := newGatedStreamer()
	ts := newTestRelay(t, st, func(o *Options) { o.Server.WebSocket.Enabled = true })
	ws := dialWS(t, ts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, ws, WSRequest{ID: 5, Endpoint: "chat", Message: "hi"}))
	var f WSFrame
	require.NoError(t, wsjson.Read(ctx, ws, &f))
	require.Equal(t, uint64(5), f.ID)

	require.NoError(t, wsjson.Write(ctx, ws, WSRequest{ID: 99, Endpoint: "cancel"}))
	// Requests are handled in order, so this rejection arrives after the
	// cancel has been processed.
	require.NoError(t, wsjson.Write(ctx, ws, WSRequest{ID: 100, Endpoint: "chat"}))
	rejected := readFrames(t, ws, 100)
	require.Len(t, rejected, 1)
	require.NotNil(t, rejected[0].Error)

	close(st.release)
	frames := readFrames(t, ws, 5)
	require.Len(t, frames, 2)
	require.NotNil(t, frames[0].Token)
	assert.Equal(t, "b", *frames[0].Token)
	assert.True(t, frames[1].Done)
}

func TestWebSocketCancelStopsMatchingID(t *testing.T) {
	st := newGatedStreamer()
	ts := newTestRelay(t, st, func(o *Options) { o.Server.WebSocket.Enabled = true })
	ws := dialWS(t, ts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, ws, WSRequest{ID: 5, Endpoint: "chat", Message: "hi"}))
	var f WSFrame
	require.NoError(t, wsjson.Read(ctx, ws, &f))
	require.Equal(t, uint64(5), f.ID)

	require.NoError(t, wsjson.Write(ctx, ws, WSRequest{ID: 5, Endpoint: "cancel"}))
	select {
	case <-st.cancelled:
	case <-ctx.Done():
		t.Fatal("stream 5 was not cancelled")
	}
}

func TestWebSocketDisabledByDefault(t *testing.T) {
	ts := newTestRelay(t, &scriptStreamer{}, nil)
	resp, err := http.Get(ts.URL + "/api/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// --- lifecycle ---

func TestStartAndShutdown(t *testing.T) {
	srv, err := NewServer(Options{
		Server:   config.ServerConfig{Addr: "127.0.0.1:0", AllowedOrigins: []string{"*"}},
		Streamer: &scriptStreamer{},
		Logger:   logger.Discard(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + srv.BoundAddr() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
