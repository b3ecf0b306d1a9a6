package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// API keys are not required here; providers check them when constructed so that
// client-only commands work without upstream credentials.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateLLM(cfg, ve)
	validateLookup(cfg, ve)
	validateClient(cfg, ve)
	validateStore(cfg, ve)
	validateLogger(cfg, ve)
	validateObservability(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Addr == "" {
		ve.Add("server.addr must not be empty")
	}
	if s.MaxBodyBytes <= 0 {
		ve.Add("server.max_body_bytes must be > 0")
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.StreamTimeout < 0 {
		ve.Add("server timeouts must be >= 0")
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.RPS <= 0 {
			ve.Add("server.rate_limit.rps must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.Burst <= 0 {
			ve.Add("server.rate_limit.burst must be > 0 when rate limiting is enabled")
		}
	}
}

var validProviderTypes = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, anthropic)", i, p.Type)
		}
		if p.Type == "openai" && p.BaseURL == "" {
			ve.Add("llm.providers[%d] (%s): base_url is required for openai-compatible providers", i, p.Name)
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model must not be empty", i, p.Name)
		}
	}

	if cfg.LLM.DefaultProvider != "" && !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Failover.Enabled {
		for _, name := range cfg.LLM.Failover.Fallbacks {
			if !seen[name] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", name)
			}
		}
	}
	if cfg.LLM.CircuitBreaker.Enabled && cfg.LLM.CircuitBreaker.MaxFailures == 0 {
		ve.Add("llm.circuit_breaker.max_failures must be > 0 when the breaker is enabled")
	}
	if cfg.LLM.Chat.MaxTokens <= 0 {
		ve.Add("llm.chat.max_tokens must be > 0")
	}
	if cfg.LLM.Explain.MaxTokens <= 0 {
		ve.Add("llm.explain.max_tokens must be > 0")
	}
	if cfg.LLM.Explain.SystemPrompt == "" {
		ve.Add("llm.explain.system_prompt must not be empty")
	}
}

var validCacheBackends = map[string]bool{
	"none":   true,
	"memory": true,
	"redis":  true,
}

func validateLookup(cfg *Config, ve *ValidationError) {
	l := cfg.Lookup
	checkURL(ve, "lookup.dictionary_url", l.DictionaryURL)
	checkURL(ve, "lookup.encyclopedia_url", l.EncyclopediaURL)
	if l.Timeout <= 0 {
		ve.Add("lookup.timeout must be > 0")
	}

	if !validCacheBackends[l.Cache.Backend] {
		ve.Add("lookup.cache.backend %q is invalid (want: none, memory, redis)", l.Cache.Backend)
		return
	}
	if l.Cache.Backend != "none" && l.Cache.TTL <= 0 {
		ve.Add("lookup.cache.ttl must be > 0 when caching is enabled")
	}
	if l.Cache.Backend == "memory" && l.Cache.Size <= 0 {
		ve.Add("lookup.cache.size must be > 0 for the memory backend")
	}
	if l.Cache.Backend == "redis" && l.Cache.RedisURL == "" {
		ve.Add("lookup.cache.redis_url is required for the redis backend")
	}
}

func validateClient(cfg *Config, ve *ValidationError) {
	c := cfg.Client
	checkURL(ve, "client.relay_url", c.RelayURL)
	if c.ThrottleInterval <= 0 {
		ve.Add("client.throttle_interval must be > 0")
	}
	if c.DebounceDelay < 0 {
		ve.Add("client.debounce_delay must be >= 0")
	}
	if c.ChatNameLimit <= 0 {
		ve.Add("client.chat_name_limit must be > 0")
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	s := cfg.Store
	switch s.Driver {
	case "memory":
	case "sqlite":
		if s.Path == "" {
			ve.Add("store.path is required for the sqlite driver")
		}
	default:
		ve.Add("store.driver %q is invalid (want: memory, sqlite)", s.Driver)
	}
	if s.Retention < 0 {
		ve.Add("store.retention must be >= 0")
	}
	if s.Retention > 0 {
		if _, err := cron.ParseStandard(s.PruneSchedule); err != nil {
			ve.Add("store.prune_schedule %q is invalid: %v", s.PruneSchedule, err)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateObservability(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.Enabled {
		switch cfg.Tracer.Exporter {
		case "stdout", "noop", "":
		default:
			ve.Add("tracer.exporter %q is invalid (want: stdout, noop)", cfg.Tracer.Exporter)
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		ve.Add("metrics.path must start with /")
	}
}

func checkURL(ve *ValidationError, field, raw string) {
	if raw == "" {
		ve.Add("%s must not be empty", field)
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Add("%s %q must be an absolute http(s) URL", field, raw)
	}
}
