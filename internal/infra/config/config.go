package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Lookup  LookupConfig  `yaml:"lookup"`
	Client  ClientConfig  `yaml:"client"`
	Store   StoreConfig   `yaml:"store"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds stream relay settings.
type ServerConfig struct {
	Addr           string          `yaml:"addr"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	TrustedProxies []string        `yaml:"trusted_proxies"`
	MaxBodyBytes   int64           `yaml:"max_body_bytes"`
	ReadTimeout    time.Duration   `yaml:"read_timeout"`
	WriteTimeout   time.Duration   `yaml:"write_timeout"`
	StreamTimeout  time.Duration   `yaml:"stream_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	WebSocket      WebSocketConfig `yaml:"websocket"`
}

// RateLimitConfig holds the per-client token bucket for relay endpoints.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// WebSocketConfig enables the /api/ws transport, which carries the same frames as the SSE endpoints.
type WebSocketConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LLMConfig holds upstream token provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	Chat            PromptConfig         `yaml:"chat"`
	Explain         PromptConfig         `yaml:"explain"`
}

// PromptConfig parameterizes one relay endpoint's upstream request.
type PromptConfig struct {
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
}

// FailoverConfig holds provider failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// CircuitBreakerConfig holds circuit breaker settings for upstream providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single upstream provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// LookupConfig holds dictionary and encyclopedia provider settings.
type LookupConfig struct {
	DictionaryURL   string        `yaml:"dictionary_url"`
	EncyclopediaURL string        `yaml:"encyclopedia_url"`
	Timeout         time.Duration `yaml:"timeout"`
	UserAgent       string        `yaml:"user_agent"`
	Cache           CacheConfig   `yaml:"cache"`
}

// CacheConfig selects the provider result cache.
type CacheConfig struct {
	Backend   string        `yaml:"backend"` // none, memory, redis
	Size      int           `yaml:"size"`
	TTL       time.Duration `yaml:"ttl"`
	RedisURL  string        `yaml:"redis_url"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// ClientConfig holds settings used by the terminal clients.
type ClientConfig struct {
	RelayURL         string        `yaml:"relay_url"`
	ThrottleInterval time.Duration `yaml:"throttle_interval"`
	DebounceDelay    time.Duration `yaml:"debounce_delay"`
	ChatNameLimit    int           `yaml:"chat_name_limit"`
}

// StoreConfig holds chat history persistence settings.
type StoreConfig struct {
	Driver        string        `yaml:"driver"` // memory, sqlite
	Path          string        `yaml:"path"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`

	// ClientAddr is where tui exposes its lookup metrics. Empty disables it;
	// the relay always serves them on server.addr.
	ClientAddr string `yaml:"client_addr"`
}

// DefaultExplainPrompt is the system prompt for /api/explain.
const DefaultExplainPrompt = "You are a helpful assistant explaining technical terms concisely.\n" +
	"Given a phrase, provide a 2-3 sentence explanation with optional sources.\n" +
	"Be conversational and informative."

// DefaultChatPrompt is the system prompt for /api/chat.
const DefaultChatPrompt = "You are a helpful assistant."

// defaultDataDir returns the persistent data directory under $HOME/.spanlight.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".spanlight")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":3001",
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   64 << 10,
			ReadTimeout:    10 * time.Second,
			StreamTimeout:  2 * time.Minute,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     5,
				Burst:   10,
			},
		},
		LLM: LLMConfig{
			DefaultProvider: "xai",
			Providers: []ProviderConfig{
				{
					Name:        "xai",
					Type:        "openai",
					BaseURL:     "https://api.x.ai/v1",
					Model:       "grok-4-fast",
					ConnTimeout: 10 * time.Second,
					RespTimeout: 2 * time.Minute,
				},
				{
					Name:        "anthropic",
					Type:        "anthropic",
					Model:       "claude-3-5-sonnet-20241022",
					ConnTimeout: 10 * time.Second,
					RespTimeout: 2 * time.Minute,
				},
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			Chat: PromptConfig{
				SystemPrompt: DefaultChatPrompt,
				MaxTokens:    1024,
				Temperature:  0.7,
			},
			Explain: PromptConfig{
				SystemPrompt: DefaultExplainPrompt,
				MaxTokens:    300,
				Temperature:  0.3,
			},
		},
		Lookup: LookupConfig{
			DictionaryURL:   "https://api.dictionaryapi.dev/api/v2/entries/en",
			EncyclopediaURL: "https://en.wikipedia.org/api/rest_v1",
			Timeout:         8 * time.Second,
			UserAgent:       "spanlight/1.0",
			Cache: CacheConfig{
				Backend:   "memory",
				Size:      512,
				TTL:       30 * time.Minute,
				KeyPrefix: "spanlight:lookup:",
			},
		},
		Client: ClientConfig{
			RelayURL:         "http://localhost:3001",
			ThrottleInterval: 100 * time.Millisecond,
			DebounceDelay:    250 * time.Millisecond,
			ChatNameLimit:    40,
		},
		Store: StoreConfig{
			Driver:        "sqlite",
			Path:          filepath.Join(defaultDataDir(), "chats.db"),
			Retention:     0,
			PruneSchedule: "@daily",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("SPANLIGHT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SPANLIGHT_* env vars (and the PORT, XAI_API_KEY,
// ANTHROPIC_API_KEY conventions) to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("SPANLIGHT_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SPANLIGHT_SERVER_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitAndTrim(v, ",")
	}
	if v := os.Getenv("SPANLIGHT_SERVER_RATE_LIMIT"); v == "false" {
		cfg.Server.RateLimit.Enabled = false
	}
	if v := os.Getenv("SPANLIGHT_SERVER_WEBSOCKET"); v == "true" {
		cfg.Server.WebSocket.Enabled = true
	}
	if v := os.Getenv("SPANLIGHT_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("SPANLIGHT_LLM_EXPLAIN_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.Explain.MaxTokens = n
		}
	}
	if v := os.Getenv("SPANLIGHT_LOOKUP_CACHE_BACKEND"); v != "" {
		cfg.Lookup.Cache.Backend = v
	}
	if v := os.Getenv("SPANLIGHT_LOOKUP_CACHE_REDIS_URL"); v != "" {
		cfg.Lookup.Cache.RedisURL = v
	}
	if v := os.Getenv("SPANLIGHT_CLIENT_RELAY_URL"); v != "" {
		cfg.Client.RelayURL = v
	}
	if v := os.Getenv("SPANLIGHT_CLIENT_THROTTLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.ThrottleInterval = d
		}
	}
	if v := os.Getenv("SPANLIGHT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("SPANLIGHT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SPANLIGHT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SPANLIGHT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SPANLIGHT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SPANLIGHT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("SPANLIGHT_METRICS_ENABLED"); v == "false" {
		cfg.Metrics.Enabled = false
	}
	if v := os.Getenv("SPANLIGHT_METRICS_CLIENT_ADDR"); v != "" {
		cfg.Metrics.ClientAddr = v
	}

	// Vendor conventions first, then the explicit per-provider override.
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		switch p.Name {
		case "xai":
			if v := os.Getenv("XAI_API_KEY"); v != "" {
				p.APIKey = v
			}
		case "anthropic":
			if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
				p.APIKey = v
			}
		}
		envKey := fmt.Sprintf("SPANLIGHT_LLM_PROVIDER_%s_API_KEY", strings.ToUpper(p.Name))
		if v := os.Getenv(envKey); v != "" {
			p.APIKey = v
		}
	}
}

// Provider returns the provider config with the given name.
func (c *LLMConfig) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
