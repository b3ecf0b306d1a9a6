package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"spanlight/internal/domain"
)

// Manager keeps the named conversations, newest first, and tracks which one
// is active. When a store is configured every change is persisted.
type Manager struct {
	store     domain.ChatStore
	nameLimit int
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	chats    []domain.Chat
	activeID string
}

// NewManager creates a Manager. store may be nil.
func NewManager(store domain.ChatStore, nameLimit int, logger *slog.Logger) *Manager {
	if nameLimit <= 0 {
		nameLimit = domain.DefaultChatNameLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, nameLimit: nameLimit, now: time.Now, logger: logger}
}

// Restore loads persisted chats. The most recent one becomes active.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	chats, err := m.store.ListChats(ctx)
	if err != nil {
		return domain.WrapOp("chat.restore", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats = chats
	m.activeID = ""
	if len(chats) > 0 {
		m.activeID = chats[0].ID
	}
	m.logger.Debug("chats restored", "count", len(chats))
	return nil
}

// CreateNewChat prepends an empty chat named DefaultChatName and activates it.
func (m *Manager) CreateNewChat(ctx context.Context) (domain.Chat, error) {
	m.mu.Lock()
	chat := m.newChatLocked()
	out := chat.Clone()
	m.mu.Unlock()

	return out, m.persist(ctx, out)
}

// Select activates the chat with id.
func (m *Manager) Select(id string) (domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexLocked(id)
	if i < 0 {
		return domain.Chat{}, domain.NewSubSystemError("chat", "Manager.Select", domain.ErrNotFound, id)
	}
	m.activeID = id
	return m.chats[i].Clone(), nil
}

// Active returns the active chat.
func (m *Manager) Active() (domain.Chat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexLocked(m.activeID)
	if i < 0 {
		return domain.Chat{}, false
	}
	return m.chats[i].Clone(), true
}

// Chats returns all chats, newest first.
func (m *Manager) Chats() []domain.Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Chat, len(m.chats))
	for i, c := range m.chats {
		out[i] = c.Clone()
	}
	return out
}

// AddMessage appends msg to the active chat, creating one if none is active.
func (m *Manager) AddMessage(ctx context.Context, msg domain.Message) (domain.Chat, error) {
	m.mu.Lock()
	i := m.indexLocked(m.activeID)
	if i < 0 {
		m.newChatLocked()
		i = 0
	}
	chat := &m.chats[i]
	chat.Messages = append(chat.Messages, msg)
	m.touchLocked(chat)
	out := chat.Clone()
	m.mu.Unlock()

	return out, m.persist(ctx, out)
}

// SaveChat replaces the active chat's messages. With no active chat a new
// one is created, unless messages is empty.
func (m *Manager) SaveChat(ctx context.Context, messages []domain.Message) (domain.Chat, error) {
	m.mu.Lock()
	i := m.indexLocked(m.activeID)
	if i < 0 {
		if len(messages) == 0 {
			m.mu.Unlock()
			return domain.Chat{}, nil
		}
		m.newChatLocked()
		i = 0
	}
	chat := &m.chats[i]
	chat.Messages = append([]domain.Message(nil), messages...)
	m.touchLocked(chat)
	out := chat.Clone()
	m.mu.Unlock()

	return out, m.persist(ctx, out)
}

// Rename sets a chat's name explicitly.
func (m *Manager) Rename(ctx context.Context, id, name string) error {
	m.mu.Lock()
	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return domain.NewSubSystemError("chat", "Manager.Rename", domain.ErrNotFound, id)
	}
	m.chats[i].Name = name
	m.chats[i].UpdatedAt = m.now()
	out := m.chats[i].Clone()
	m.mu.Unlock()

	return m.persist(ctx, out)
}

// Delete removes a chat. Deleting the active chat leaves none active.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return domain.NewSubSystemError("chat", "Manager.Delete", domain.ErrNotFound, id)
	}
	m.chats = append(m.chats[:i], m.chats[i+1:]...)
	if m.activeID == id {
		m.activeID = ""
	}
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	return domain.WrapOp("chat.delete", m.store.DeleteChat(ctx, id))
}

func (m *Manager) newChatLocked() *domain.Chat {
	now := m.now()
	chat := domain.Chat{
		ID:        domain.NewID(),
		Name:      domain.DefaultChatName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.chats = append([]domain.Chat{chat}, m.chats...)
	m.activeID = chat.ID
	return &m.chats[0]
}

// touchLocked refreshes derived fields. The name is derived only while it is
// still the default, so a chat is named once.
func (m *Manager) touchLocked(chat *domain.Chat) {
	chat.MessageCount = len(chat.Messages)
	chat.UpdatedAt = m.now()
	if chat.Name == domain.DefaultChatName {
		chat.Name = domain.ChatNameFrom(chat.Messages, m.nameLimit)
	}
}

func (m *Manager) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range m.chats {
		if m.chats[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) persist(ctx context.Context, chat domain.Chat) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveChat(ctx, chat); err != nil {
		m.logger.Warn("chat persist failed", "chat_id", chat.ID, "error", err)
		return domain.WrapOp("chat.persist", err)
	}
	return nil
}
