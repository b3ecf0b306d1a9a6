package domain

import (
	"strings"
	"time"
)

// Sender identifies who authored a chat message.
type Sender string

// Sender constants.
const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "ai"
)

// DefaultChatName is the name of a conversation before its first user message.
const DefaultChatName = "New Chat"

// DefaultChatNameLimit is the number of characters kept when deriving a chat
// name from the first user message.
const DefaultChatNameLimit = 40

// Message is a single chat message. Assistant messages may be partial while
// their stream is in flight and are immutable once it terminates.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh ID stamped at now.
func NewMessage(sender Sender, text string, now time.Time) Message {
	return Message{
		ID:        NewID(),
		Text:      text,
		Sender:    sender,
		Timestamp: now,
	}
}

// Chat is a named conversation.
type Chat struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Messages     []Message `json:"messages"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a copy of c whose message slice is not shared.
func (c Chat) Clone() Chat {
	out := c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}

// ChatNameFrom derives a conversation name from its first user message,
// truncated to limit characters with a "..." suffix. It returns
// DefaultChatName when no user message exists.
func ChatNameFrom(messages []Message, limit int) string {
	if limit <= 0 {
		limit = DefaultChatNameLimit
	}
	for _, m := range messages {
		if m.Sender != SenderUser {
			continue
		}
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > limit {
			return string(runes[:limit]) + "..."
		}
		return text
	}
	return DefaultChatName
}
