package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spanlight/internal/infra/config"
)

func TestCheckConfigFile_NotFound(t *testing.T) {
	result := checkConfigFile("/nonexistent/path/config.yaml", nil)(nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing config, got %s", result.Status)
	}
}

func TestCheckConfigFile_ParseError(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := writeTestFile(t, cfgPath, "server: {{yaml"); err != nil {
		t.Fatal(err)
	}

	result := checkConfigFile(cfgPath, &config.ValidationError{Errors: []string{"bad yaml"}})(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for parse error, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for parse error")
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := writeTestFile(t, cfgPath, "server:\n  addr: \":3001\""); err != nil {
		t.Fatal(err)
	}

	result := checkConfigFile(cfgPath, nil)(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for valid config, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckLLMAPIKey(t *testing.T) {
	withKeys := func(primary, fallback string) *config.Config {
		cfg := config.Defaults()
		cfg.LLM.Providers[0].APIKey = primary
		cfg.LLM.Providers[1].APIKey = fallback
		cfg.LLM.Failover = config.FailoverConfig{Enabled: true, Fallbacks: []string{cfg.LLM.Providers[1].Name}}
		return cfg
	}

	tests := []struct {
		name string
		cfg  *config.Config
		want CheckStatus
	}{
		{"nil config", nil, StatusFail},
		{"unknown default", &config.Config{LLM: config.LLMConfig{DefaultProvider: "nope"}}, StatusFail},
		{"default without key", withKeys("", "k"), StatusFail},
		{"fallback without key", withKeys("k", ""), StatusWarn},
		{"all keys", withKeys("k", "k"), StatusPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checkLLMAPIKey(tt.cfg).Status; got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCheckLLMConnectivity_NoKeySkips(t *testing.T) {
	cfg := config.Defaults()
	for i := range cfg.LLM.Providers {
		cfg.LLM.Providers[i].APIKey = ""
	}
	result := checkLLMConnectivity(cfg)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN without key, got %s", result.Status)
	}
}

func TestCheckLLMConnectivity_Reachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.LLM.Providers[0].APIKey = "k"
	cfg.LLM.Providers[0].BaseURL = srv.URL + "/"

	result := checkLLMConnectivity(cfg)
	if result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestProviderEndpoint(t *testing.T) {
	tests := []struct {
		name string
		p    config.ProviderConfig
		want string
	}{
		{"base url wins", config.ProviderConfig{Type: "anthropic", BaseURL: "http://proxy/"}, "http://proxy"},
		{"anthropic", config.ProviderConfig{Type: "anthropic"}, "https://api.anthropic.com/"},
		{"openai-compatible", config.ProviderConfig{Type: "openai"}, "https://api.x.ai/v1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := providerEndpoint(tt.p); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCheckRelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))

	cfg := config.Defaults()
	cfg.Client.RelayURL = srv.URL
	if result := checkRelay(cfg); result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}

	srv.Close()
	result := checkRelay(cfg)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for stopped relay, got %s", result.Status)
	}
	if !strings.Contains(result.Fix, "spanlight serve") {
		t.Errorf("expected fix to mention serve, got %q", result.Fix)
	}
}

func TestCheckChatStore(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	if result := checkChatStore(cfg); result.Status != StatusPass {
		t.Errorf("expected PASS for memory store, got %s", result.Status)
	}

	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "nested", "chats.db")
	result := checkChatStore(cfg)
	if result.Status != StatusPass {
		t.Fatalf("expected PASS, got %s: %s", result.Status, result.Message)
	}
	if _, err := os.Stat(filepath.Dir(cfg.Store.Path)); err != nil {
		t.Errorf("expected store directory to be created: %v", err)
	}
}

func TestCheckChatStore_NotWritable(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	if err := writeTestFile(t, parent, "x"); err != nil {
		t.Fatal(err)
	}
	cfg := config.Defaults()
	cfg.Store.Path = filepath.Join(parent, "chats.db")

	if result := checkChatStore(cfg); result.Status != StatusFail {
		t.Errorf("expected FAIL when the directory is a file, got %s", result.Status)
	}
}

func TestCheckLookupCache(t *testing.T) {
	cfg := config.Defaults()

	cfg.Lookup.Cache.Backend = "none"
	if result := checkLookupCache(cfg); result.Status != StatusPass {
		t.Errorf("expected PASS for none, got %s", result.Status)
	}

	cfg.Lookup.Cache.Backend = "memory"
	if result := checkLookupCache(cfg); result.Status != StatusPass {
		t.Errorf("expected PASS for memory, got %s", result.Status)
	}

	cfg.Lookup.Cache.Backend = "redis"
	cfg.Lookup.Cache.RedisURL = "not a url"
	if result := checkLookupCache(cfg); result.Status != StatusFail {
		t.Errorf("expected FAIL for bad redis url, got %s", result.Status)
	}
}

func TestCheckLookupServices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.Lookup.DictionaryURL = srv.URL
	cfg.Lookup.EncyclopediaURL = srv.URL
	if result := checkLookupServices(cfg); result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}

	cfg.Lookup.EncyclopediaURL = "http://127.0.0.1:1"
	result := checkLookupServices(cfg)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "127.0.0.1:1") {
		t.Errorf("expected unreachable host in message, got %q", result.Message)
	}
}

func TestStatusIcon(t *testing.T) {
	tests := map[CheckStatus]string{
		StatusPass: "[PASS]",
		StatusWarn: "[WARN]",
		StatusFail: "[FAIL]",
		"other":    "[????]",
	}
	for status, want := range tests {
		if got := statusIcon(status); got != want {
			t.Errorf("statusIcon(%s) = %s, want %s", status, got, want)
		}
	}
}

func writeTestFile(t *testing.T, path, content string) error {
	t.Helper()
	return os.WriteFile(path, []byte(content), 0o600)
}
