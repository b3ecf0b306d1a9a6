// Package relay is the stream relay: it accepts a chat message or a span to
// explain, opens one upstream token stream, and forwards every token to the
// caller as an SSE frame, ending with exactly one terminal frame.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
	"spanlight/internal/infra/middleware"
)

// Observer records relay activity. *metrics.Metrics satisfies it.
type Observer interface {
	Request(endpoint string, status int)
	Frame(endpoint string, kind domain.StreamEventKind)
	StreamStarted(endpoint string) func(outcome string)
}

type nopObserver struct{}

func (nopObserver) Request(string, int)                       {}
func (nopObserver) Frame(string, domain.StreamEventKind)      {}
func (nopObserver) StreamStarted(string) func(outcome string) { return func(string) {} }

// Options configures a Server.
type Options struct {
	Server   config.ServerConfig
	Chat     config.PromptConfig
	Explain  config.PromptConfig
	Streamer domain.TokenStreamer
	Observer Observer
	Logger   *slog.Logger

	// MetricsPath and MetricsHandler mount a scrape endpoint when both are set.
	MetricsPath    string
	MetricsHandler http.Handler
}

// Server is the relay HTTP server.
type Server struct {
	cfg      config.ServerConfig
	chat     config.PromptConfig
	explain  config.PromptConfig
	streamer domain.TokenStreamer
	obs      Observer
	logger   *slog.Logger

	metricsPath    string
	metricsHandler http.Handler

	httpSrv   *http.Server
	boundAddr string
	ready     chan struct{}
}

// NewServer creates a relay server. Streamer is required.
func NewServer(opts Options) (*Server, error) {
	if opts.Streamer == nil {
		return nil, fmt.Errorf("relay: token streamer is required")
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		cfg:            opts.Server,
		chat:           opts.Chat,
		explain:        opts.Explain,
		streamer:       opts.Streamer,
		obs:            opts.Observer,
		logger:         opts.Logger,
		metricsPath:    opts.MetricsPath,
		metricsHandler: opts.MetricsHandler,
		ready:          make(chan struct{}),
	}, nil
}

// Handler returns the routed handler wrapped in the relay middleware. ctx
// bounds the rate limiter's janitor goroutine.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/explain", s.handleExplain)
	mux.HandleFunc("/api/health", s.handleHealth)
	if s.cfg.WebSocket.Enabled {
		mux.HandleFunc("/api/ws", s.handleWebSocket)
	}
	if s.metricsPath != "" && s.metricsHandler != nil {
		mux.Handle(s.metricsPath, s.metricsHandler)
	}

	mws := []func(http.Handler) http.Handler{
		middleware.SecurityHeaders,
		middleware.CORS(s.cfg.AllowedOrigins),
	}
	if s.cfg.RateLimit.Enabled {
		mws = append(mws, middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RPS:            s.cfg.RateLimit.RPS,
			Burst:          s.cfg.RateLimit.Burst,
			TrustedProxies: s.cfg.TrustedProxies,
		}))
	}
	return middleware.Chain(mux, mws...)
}

// Start listens on the configured address and serves until ctx is done, then
// shuts down gracefully. In-flight streams see their request contexts end.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("relay listen %s: %w", s.cfg.Addr, err)
	}
	s.boundAddr = ln.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	close(s.ready)

	s.logger.Info("relay started", "addr", s.boundAddr, "provider", s.streamer.Name())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("relay serve: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	s.logger.Info("relay stopped")
	return <-errCh
}

// Ready is closed once Start has bound its listener.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// BoundAddr returns the address the server bound to. Only valid after Ready.
func (s *Server) BoundAddr() string { return s.boundAddr }
