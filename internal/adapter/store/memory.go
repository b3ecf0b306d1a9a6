package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"spanlight/internal/domain"
)

// MemoryChatStore keeps chats in process memory. History does not survive a
// restart.
type MemoryChatStore struct {
	mu    sync.RWMutex
	chats map[string]domain.Chat
}

// NewMemoryChatStore creates an empty store.
func NewMemoryChatStore() *MemoryChatStore {
	return &MemoryChatStore{chats: make(map[string]domain.Chat)}
}

func (s *MemoryChatStore) SaveChat(_ context.Context, chat domain.Chat) error {
	if chat.ID == "" {
		return domain.NewSubSystemError("chat", "MemoryChatStore.SaveChat", domain.ErrInvalidInput, "empty chat id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := chat.Clone()
	c.MessageCount = len(c.Messages)
	if prev, ok := s.chats[c.ID]; ok {
		c.CreatedAt = prev.CreatedAt
	}
	s.chats[c.ID] = c
	return nil
}

func (s *MemoryChatStore) ListChats(_ context.Context) ([]domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryChatStore) DeleteChat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; !ok {
		return domain.NewSubSystemError("chat", "MemoryChatStore.DeleteChat", domain.ErrNotFound, id)
	}
	delete(s.chats, id)
	return nil
}

func (s *MemoryChatStore) PruneChats(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.chats {
		if c.UpdatedAt.Before(before) {
			delete(s.chats, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryChatStore) Close() error { return nil }

var _ domain.ChatStore = (*MemoryChatStore)(nil)
