package llm

import (
	"fmt"
	"log/slog"
	"strings"

	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
)

// NewProvider builds a single provider from its config.
func NewProvider(cfg config.ProviderConfig, logger *slog.Logger) (domain.TokenStreamer, error) {
	switch cfg.Type {
	case "openai":
		if cfg.APIKey == "" && cfg.Name == "xai" {
			return nil, domain.NewSubSystemError("llm", "NewProvider", domain.ErrAuthInvalid,
				fmt.Sprintf("api_key is empty (set XAI_API_KEY or SPANLIGHT_LLM_PROVIDER_%s_API_KEY)", strings.ToUpper(cfg.Name)))
		}
		return NewOpenAIProvider(cfg, logger), nil
	case "anthropic":
		return NewAnthropicProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// NewStreamer assembles the relay's upstream: the default provider, each
// wrapped in a circuit breaker when enabled, chained with the configured
// fallbacks when failover is on.
func NewStreamer(cfg config.LLMConfig, logger *slog.Logger) (domain.TokenStreamer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	build := func(name string) (domain.TokenStreamer, error) {
		pc, ok := cfg.Provider(name)
		if !ok {
			return nil, fmt.Errorf("provider %q is not configured", name)
		}
		p, err := NewProvider(pc, logger)
		if err != nil {
			return nil, err
		}
		if cfg.CircuitBreaker.Enabled {
			p = NewCircuitBreakerStreamer(p, cfg.CircuitBreaker, logger)
		}
		return p, nil
	}

	primary, err := build(cfg.DefaultProvider)
	if err != nil {
		return nil, err
	}
	if !cfg.Failover.Enabled || len(cfg.Failover.Fallbacks) == 0 {
		return primary, nil
	}

	fallbacks := make([]domain.TokenStreamer, 0, len(cfg.Failover.Fallbacks))
	for _, name := range cfg.Failover.Fallbacks {
		fb, err := build(name)
		if err != nil {
			logger.Warn("skipping fallback provider", "provider", name, "error", err)
			continue
		}
		fallbacks = append(fallbacks, fb)
	}
	return NewFailoverStreamer(primary, fallbacks, logger), nil
}
