package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"spanlight/internal/domain"
)

// FailoverStreamer tries the primary provider, then each fallback in order,
// but only while opening the stream. A stream that has started is never
// retried elsewhere.
type FailoverStreamer struct {
	primary   domain.TokenStreamer
	fallbacks []domain.TokenStreamer
	logger    *slog.Logger
}

// NewFailoverStreamer creates a failover-capable streamer.
func NewFailoverStreamer(primary domain.TokenStreamer, fallbacks []domain.TokenStreamer, logger *slog.Logger) *FailoverStreamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverStreamer{primary: primary, fallbacks: fallbacks, logger: logger}
}

// StreamTokens implements domain.TokenStreamer.
func (f *FailoverStreamer) StreamTokens(ctx context.Context, req domain.PromptRequest) (<-chan domain.StreamDelta, error) {
	var errs []error
	for i, p := range append([]domain.TokenStreamer{f.primary}, f.fallbacks...) {
		ch, err := p.StreamTokens(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("streaming failover succeeded", "provider", p.Name())
			}
			return ch, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn("provider failed to open stream", "provider", p.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

// Name returns a composite name.
func (f *FailoverStreamer) Name() string {
	return f.primary.Name() + "+failover"
}

var _ domain.TokenStreamer = (*FailoverStreamer)(nil)
