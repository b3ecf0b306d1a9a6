package domain

import (
	"context"
	"time"
)

// PromptRequest is what the relay sends to an upstream model.
type PromptRequest struct {
	Model       string  `json:"model,omitempty"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Usage tracks token consumption reported by an upstream.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamDelta is a single incremental chunk from an upstream model. A delta
// with Err set is the last one; a closed channel without Err is completion.
type StreamDelta struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
	Err     error  `json:"-"`
}

// TokenStreamer produces a finite, lazy sequence of text fragments for a prompt.
type TokenStreamer interface {
	Name() string
	StreamTokens(ctx context.Context, req PromptRequest) (<-chan StreamDelta, error)
}

// DictionaryProvider looks up a single word. Missing words yield ErrNotFound.
type DictionaryProvider interface {
	Define(ctx context.Context, word string) ([]DictionaryEntry, error)
}

// EncyclopediaProvider fetches an article abstract for a phrase. Missing
// articles yield ErrNotFound.
type EncyclopediaProvider interface {
	Summarize(ctx context.Context, phrase string) (*EncyclopediaSummary, error)
}

// AssistantSource streams an explanation of span within its surrounding context.
type AssistantSource interface {
	Explain(ctx context.Context, span, context string) (<-chan StreamEvent, error)
}

// ChatStreamer streams an assistant reply to a chat message.
type ChatStreamer interface {
	StreamChat(ctx context.Context, message string) (<-chan StreamEvent, error)
}

// ChatStore persists conversations.
type ChatStore interface {
	SaveChat(ctx context.Context, chat Chat) error
	ListChats(ctx context.Context) ([]Chat, error)
	DeleteChat(ctx context.Context, id string) error
	PruneChats(ctx context.Context, before time.Time) (int, error)
	Close() error
}
