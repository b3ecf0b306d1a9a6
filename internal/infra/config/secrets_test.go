package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "xai-abcdef123456"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if strings.Contains(encrypted, plaintext) {
		t.Fatal("ciphertext contains plaintext")
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestEncryptValueSaltsEachCall(t *testing.T) {
	a, err := EncryptValue("same", "pass")
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncryptValue("same", "pass")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same value should differ")
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptValue(encrypted, "wrong-pass"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no separator", "abcdef"},
		{"bad salt", "zz:abcd"},
		{"bad ciphertext", "abcd:zz"},
		{"too short", "abcd:ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptValue(tt.input, "pass"); err == nil {
				t.Errorf("DecryptValue(%q) should fail", tt.input)
			}
		})
	}
}

func TestDecryptSecrets(t *testing.T) {
	passphrase := "test-config-key"
	encKey, err := EncryptValue("xai-secret", passphrase)
	if err != nil {
		t.Fatal(err)
	}
	encURL, err := EncryptValue("redis://:pw@cache:6379/0", passphrase)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	cfg.LLM.Providers[0].APIKey = EncryptedPrefix + encKey
	cfg.LLM.Providers[1].APIKey = "sk-plain"
	cfg.Lookup.Cache.RedisURL = EncryptedPrefix + encURL

	if err := decryptSecrets(cfg, passphrase); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.LLM.Providers[0].APIKey != "xai-secret" {
		t.Errorf("APIKey = %q, want xai-secret", cfg.LLM.Providers[0].APIKey)
	}
	if cfg.LLM.Providers[1].APIKey != "sk-plain" {
		t.Errorf("plain APIKey should remain unchanged, got %q", cfg.LLM.Providers[1].APIKey)
	}
	if cfg.Lookup.Cache.RedisURL != "redis://:pw@cache:6379/0" {
		t.Errorf("RedisURL = %q", cfg.Lookup.Cache.RedisURL)
	}
}

func TestDecryptSecretsInvalidCiphertext(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Providers[0].APIKey = "enc:notvalidhex"
	err := decryptSecrets(cfg, "passphrase")
	if err == nil {
		t.Fatal("expected error for invalid ciphertext")
	}
	if !strings.Contains(err.Error(), "provider xai api_key") {
		t.Errorf("error should name the field: %v", err)
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	passphrase := "test-load-key"
	encrypted, err := EncryptValue("xai-loadtest", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  default_provider: "xai"
  providers:
    - name: "xai"
      type: "openai"
      base_url: "https://api.x.ai/v1"
      model: "grok-4-fast"
      api_key: "enc:` + encrypted + `"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SPANLIGHT_CONFIG_KEY", passphrase)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Providers[0].APIKey != "xai-loadtest" {
		t.Errorf("APIKey = %q, want xai-loadtest", cfg.LLM.Providers[0].APIKey)
	}
}

func TestLoadDecryptSecretsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "lookup:\n  cache:\n    backend: redis\n    redis_url: \"enc:00:00\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SPANLIGHT_CONFIG_KEY", "k")
	if _, err := Load(path); err == nil {
		t.Error("expected decrypt error")
	}
}
