package chat

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"spanlight/internal/domain"
	chatuc "spanlight/internal/usecase/chat"
)

// sendCmd runs one chat turn off the update loop. Progress arrives as
// SessionMsg snapshots; the returned TurnDoneMsg only reports the outcome.
func sendCmd(ctx context.Context, conv Conversation, text string, turn uint64) tea.Cmd {
	return func() tea.Msg {
		return TurnDoneMsg{Turn: turn, Err: conv.Send(ctx, text)}
	}
}

// saveCmd persists the transcript into the active chat.
func saveCmd(ctx context.Context, chats *chatuc.Manager, messages []domain.Message) tea.Cmd {
	return func() tea.Msg {
		chat, err := chats.SaveChat(ctx, messages)
		return chatSavedMsg{Chat: chat, Err: err}
	}
}

// parseLookup splits "/lookup" arguments into a span and an explicit
// context. "span | context" sets both; explicit reports whether a "|" was
// present.
func parseLookup(args []string) (span, context string, explicit bool) {
	joined := strings.Join(args, " ")
	if i := strings.Index(joined, "|"); i >= 0 {
		return strings.TrimSpace(joined[:i]), strings.TrimSpace(joined[i+1:]), true
	}
	return strings.TrimSpace(joined), "", false
}

// lookupContext picks the surrounding text for span: the newest message
// that mentions it, ignoring case. Without a match the context is empty.
func lookupContext(messages []domain.Message, span string) string {
	needle := strings.ToLower(strings.TrimSpace(span))
	if needle == "" {
		return ""
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if strings.Contains(strings.ToLower(messages[i].Text), needle) {
			return messages[i].Text
		}
	}
	return ""
}
