// Package store persists chat history. SQLite is the durable backend; the
// memory backend is for tests and ephemeral sessions.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
)

// Open returns the store selected by cfg.Driver. For sqlite the parent
// directory of cfg.Path is created with owner-only permissions.
func Open(cfg config.StoreConfig) (domain.ChatStore, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryChatStore(), nil
	case "sqlite", "":
		path, err := expandHome(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		return NewSQLiteChatStore(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
