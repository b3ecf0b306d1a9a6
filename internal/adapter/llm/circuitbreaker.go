package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerStreamer wraps a TokenStreamer with circuit breaker
// protection on stream open. Once tokens flow, failures travel through the
// channel and do not count against the breaker.
type CircuitBreakerStreamer struct {
	inner   domain.TokenStreamer
	breaker *gobreaker.CircuitBreaker[<-chan domain.StreamDelta]
	logger  *slog.Logger
}

// NewCircuitBreakerStreamer wraps inner with a circuit breaker. Zero-valued
// settings take the defaults above.
func NewCircuitBreakerStreamer(inner domain.TokenStreamer, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerStreamer {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[<-chan domain.StreamDelta](gobreaker.Settings{
		Name:        "llm:" + inner.Name(),
		MaxRequests: 1, // one probe in half-open
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A client hanging up is not the upstream's fault, and neither is a
		// request the upstream rejected as malformed or too large.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				domain.IsCancellation(err) ||
				errors.Is(err, domain.ErrContextOverflow)
		},
	})

	return &CircuitBreakerStreamer{inner: inner, breaker: cb, logger: logger}
}

// StreamTokens implements domain.TokenStreamer.
func (p *CircuitBreakerStreamer) StreamTokens(ctx context.Context, req domain.PromptRequest) (<-chan domain.StreamDelta, error) {
	ch, err := p.breaker.Execute(func() (<-chan domain.StreamDelta, error) {
		return p.inner.StreamTokens(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("provider %q: %w", p.inner.Name(), domain.ErrCircuitOpen)
		}
		return nil, err
	}
	return ch, nil
}

// Name implements domain.TokenStreamer.
func (p *CircuitBreakerStreamer) Name() string { return p.inner.Name() }

// State returns the current circuit breaker state for monitoring.
func (p *CircuitBreakerStreamer) State() gobreaker.State {
	return p.breaker.State()
}

// Counts returns the current circuit breaker failure/success counts.
func (p *CircuitBreakerStreamer) Counts() gobreaker.Counts {
	return p.breaker.Counts()
}

var _ domain.TokenStreamer = (*CircuitBreakerStreamer)(nil)
