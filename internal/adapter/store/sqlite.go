package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"spanlight/internal/domain"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteChatStore implements domain.ChatStore using SQLite. Messages are kept
// as a JSON array on the chat row; a chat is always written whole.
type SQLiteChatStore struct {
	db *sql.DB
}

// NewSQLiteChatStore opens (or creates) a SQLite database at dbPath and runs
// the schema migration.
func NewSQLiteChatStore(dbPath string) (*SQLiteChatStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open chat db: %w", err)
	}
	// One writer at a time; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate chat db: %w", err)
	}
	return &SQLiteChatStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chats (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			messages      TEXT NOT NULL DEFAULT '[]',
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS chats_updated_at ON chats (updated_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteChatStore) Close() error {
	return s.db.Close()
}

// SaveChat inserts or replaces a chat.
func (s *SQLiteChatStore) SaveChat(ctx context.Context, chat domain.Chat) error {
	if chat.ID == "" {
		return domain.NewSubSystemError("chat", "SQLiteChatStore.SaveChat", domain.ErrInvalidInput, "empty chat id")
	}
	msgs := chat.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	msgJSON, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal chat messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chats (id, name, messages, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			messages = excluded.messages,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at`,
		chat.ID, chat.Name, string(msgJSON), len(chat.Messages),
		formatTime(chat.CreatedAt), formatTime(chat.UpdatedAt),
	)
	if err != nil {
		return storeError("SQLiteChatStore.SaveChat", err)
	}
	return nil
}

// ListChats returns every chat, most recently updated first.
func (s *SQLiteChatStore) ListChats(ctx context.Context) ([]domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, messages, message_count, created_at, updated_at FROM chats ORDER BY updated_at DESC, id DESC")
	if err != nil {
		return nil, storeError("SQLiteChatStore.ListChats", err)
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		var (
			c                      domain.Chat
			msgStr                 string
			createdStr, updatedStr string
		)
		if err := rows.Scan(&c.ID, &c.Name, &msgStr, &c.MessageCount, &createdStr, &updatedStr); err != nil {
			return nil, storeError("SQLiteChatStore.ListChats", err)
		}
		if err := json.Unmarshal([]byte(msgStr), &c.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal messages of chat %s: %w", c.ID, err)
		}
		c.CreatedAt, _ = time.Parse(timeLayout, createdStr)
		c.UpdatedAt, _ = time.Parse(timeLayout, updatedStr)
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("SQLiteChatStore.ListChats", err)
	}
	return chats, nil
}

// DeleteChat removes a chat. A missing chat yields domain.ErrNotFound.
func (s *SQLiteChatStore) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return storeError("SQLiteChatStore.DeleteChat", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewSubSystemError("chat", "SQLiteChatStore.DeleteChat", domain.ErrNotFound, id)
	}
	return nil
}

// PruneChats deletes chats last updated before the cutoff.
func (s *SQLiteChatStore) PruneChats(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE updated_at < ?", formatTime(before))
	if err != nil {
		return 0, storeError("SQLiteChatStore.PruneChats", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.NewDomainError(op, fmt.Errorf("%w: %v", domain.ErrStoreFailure, err), "")
}

var _ domain.ChatStore = (*SQLiteChatStore)(nil)
