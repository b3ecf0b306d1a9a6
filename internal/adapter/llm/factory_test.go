package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
)

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.ProviderConfig{Name: "local", Type: "openai", BaseURL: "http://localhost:11434/v1"}, nil)
	require.NoError(t, err, "keyless openai-compatible endpoints are allowed")
	assert.IsType(t, &OpenAIProvider{}, p)

	_, err = NewProvider(config.ProviderConfig{Name: "xai", Type: "openai", BaseURL: "https://api.x.ai/v1"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
	assert.Contains(t, err.Error(), "XAI_API_KEY")

	_, err = NewProvider(config.ProviderConfig{Name: "x", Type: "bedrock"}, nil)
	assert.Error(t, err)
}

func TestNewStreamerComposition(t *testing.T) {
	cfg := config.Defaults().LLM
	cfg.Providers[0].APIKey = "xai-key"
	cfg.Providers[1].APIKey = "sk-ant"

	s, err := NewStreamer(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &CircuitBreakerStreamer{}, s)
	assert.Equal(t, "xai", s.Name())

	cfg.Failover = config.FailoverConfig{Enabled: true, Fallbacks: []string{"anthropic", "missing"}}
	s, err = NewStreamer(cfg, nil)
	require.NoError(t, err)
	f, ok := s.(*FailoverStreamer)
	require.True(t, ok)
	assert.Len(t, f.fallbacks, 1, "unknown fallbacks are skipped")

	cfg.CircuitBreaker.Enabled = false
	cfg.Failover.Enabled = false
	s, err = NewStreamer(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, s)
}

func TestNewStreamerMissingDefault(t *testing.T) {
	cfg := config.Defaults().LLM
	cfg.DefaultProvider = "ghost"
	_, err := NewStreamer(cfg, nil)
	assert.Error(t, err)
}
