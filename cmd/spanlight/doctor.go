package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"spanlight/internal/adapter/client"
	"spanlight/internal/adapter/lookup"
	"spanlight/internal/infra/config"
	"spanlight/internal/infra/httpclient"
	"spanlight/internal/infra/logger"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

const notLoaded = "cannot check, config not loaded"

// doctorClient bounds every network probe.
var doctorClient = httpclient.New(httpclient.Options{Total: 10 * time.Second})

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM API key", Fn: checkLLMAPIKey},
		{Name: "LLM connectivity", Fn: checkLLMConnectivity},
		{Name: "Relay", Fn: checkRelay},
		{Name: "Chat store", Fn: checkChatStore},
		{Name: "Lookup cache", Fn: checkLookupCache},
		{Name: "Lookup services", Fn: checkLookupServices},
	}

	fmt.Println("spanlight doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn == 0 {
		fmt.Println("\nAll checks passed.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file parsed. A missing file is
// only a warning because defaults and env overrides still apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and the fields named above",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkLLMAPIKey requires a key for the default provider and warns about
// fallbacks without one.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}

	def, ok := cfg.LLM.Provider(cfg.LLM.DefaultProvider)
	if !ok {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q not configured", cfg.LLM.DefaultProvider),
			Fix:     "Add it under llm.providers or change llm.default_provider",
		}
	}
	if def.APIKey == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API key for default provider %s", def.Name),
			Fix:     "Set XAI_API_KEY or ANTHROPIC_API_KEY, or llm.providers[].api_key",
		}
	}

	var missing []string
	if cfg.LLM.Failover.Enabled {
		for _, name := range cfg.LLM.Failover.Fallbacks {
			if p, ok := cfg.LLM.Provider(name); !ok || p.APIKey == "" {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("key configured for %s; missing for fallbacks [%s]", def.Name, strings.Join(missing, ", ")),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("API key configured for %s", def.Name),
	}
}

// checkLLMConnectivity tests if the default provider's API host answers.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	p, ok := cfg.LLM.Provider(cfg.LLM.DefaultProvider)
	if !ok {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("default provider %q not configured", cfg.LLM.DefaultProvider)}
	}
	if p.APIKey == "" {
		return CheckResult{Status: StatusWarn, Message: "skipped, no API key for default provider"}
	}

	endpoint := providerEndpoint(p)
	latency, err := probe(endpoint)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check your internet connection and firewall settings",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", p.Name, latency.Milliseconds()),
	}
}

// providerEndpoint returns a URL that any reachable provider answers.
func providerEndpoint(p config.ProviderConfig) string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	switch p.Type {
	case "anthropic":
		return "https://api.anthropic.com/"
	default:
		return "https://api.x.ai/v1"
	}
}

// checkRelay asks the configured relay for its health. A relay that is not
// running is a warning; serve may simply not be started yet.
func checkRelay(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rc := client.NewRelayClient(cfg.Client.RelayURL, doctorClient, logger.Discard())
	if err := rc.Health(ctx); err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("relay at %s not reachable: %v", cfg.Client.RelayURL, err),
			Fix:     "Start it with 'spanlight serve' or set client.relay_url",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("relay healthy at %s", cfg.Client.RelayURL)}
}

// checkChatStore verifies the sqlite directory exists and is writable.
func checkChatStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	if cfg.Store.Driver == "memory" {
		return CheckResult{Status: StatusPass, Message: "memory store (history is not persisted)"}
	}

	path := cfg.Store.Path
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	dir, _ := filepath.Abs(filepath.Dir(path))

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("store directory %s cannot be created: %v", dir, err),
			Fix:     "Set store.path to a writable location",
		}
	}
	testFile := filepath.Join(dir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("store directory %s is not writable: %v", dir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 700 %s", dir),
		}
	}
	os.Remove(testFile)

	msg := fmt.Sprintf("sqlite store at %s", path)
	if cfg.Store.Retention > 0 {
		msg += fmt.Sprintf(", chats kept for %s", cfg.Store.Retention)
	}
	return CheckResult{Status: StatusPass, Message: msg}
}

// checkLookupCache builds the configured cache and pings redis.
func checkLookupCache(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	cache, err := lookup.NewCache(cfg.Lookup.Cache)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Check lookup.cache.backend and lookup.cache.redis_url",
		}
	}
	if cache == nil {
		return CheckResult{Status: StatusPass, Message: "caching disabled"}
	}
	defer cache.Close()

	if rc, ok := cache.(*lookup.RedisCache); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rc.Ping(ctx); err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("redis not reachable: %v", err),
				Fix:     "Start redis or set lookup.cache.backend to memory",
			}
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s cache ready", cfg.Lookup.Cache.Backend)}
}

// checkLookupServices probes the dictionary and encyclopedia hosts.
func checkLookupServices(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	var down []string
	for _, u := range []string{cfg.Lookup.DictionaryURL, cfg.Lookup.EncyclopediaURL} {
		if _, err := probe(u); err != nil {
			down = append(down, u)
		}
	}
	if len(down) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("unreachable: %s", strings.Join(down, ", ")),
			Fix:     "Lookups will fall through to the assistant",
		}
	}
	return CheckResult{Status: StatusPass, Message: "dictionary and encyclopedia reachable"}
}

// probe issues a GET and treats any HTTP response as reachable.
func probe(url string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := doctorClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return time.Since(start), nil
}
