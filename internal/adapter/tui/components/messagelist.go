package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"spanlight/internal/adapter/tui/theme"
)

// MessageRole identifies who a rendered line belongs to.
type MessageRole string

// Roles.
const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleError     MessageRole = "error"
)

// ChatMessage is one entry in the chat view. Streaming marks an assistant
// reply that is still receiving text.
type ChatMessage struct {
	ID        string
	Role      MessageRole
	Content   string
	Rendered  string // cached markdown output, empty when stale
	Timestamp time.Time
	Streaming bool
}

// MessageListModel is an ordered list of chat messages with an optional cap.
type MessageListModel struct {
	Messages    []ChatMessage
	MaxMessages int // 0 means unlimited
	trimCount   int
	width       int
	md          Markdown
}

// NewMessageList creates an empty message list.
func NewMessageList() MessageListModel {
	return MessageListModel{}
}

// SetWidth updates the rendering width and drops cached renders.
func (m *MessageListModel) SetWidth(w int) {
	if w == m.width {
		return
	}
	m.width = w
	m.md.SetWidth(ContentWidth(w))
	for i := range m.Messages {
		m.Messages[i].Rendered = ""
	}
}

// SetMaxMessages sets the cap. 0 means unlimited.
func (m *MessageListModel) SetMaxMessages(max int) {
	m.MaxMessages = max
}

// TrimmedIndicator describes how many messages the cap dropped.
func (m *MessageListModel) TrimmedIndicator() string {
	if m.trimCount == 0 {
		return ""
	}
	return fmt.Sprintf("(%d older messages trimmed)", m.trimCount)
}

// Add appends a message, dropping the oldest beyond MaxMessages.
func (m *MessageListModel) Add(msg ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.Messages = append(m.Messages, msg)
	m.trim()
}

// Replace swaps in a new message list. Cached renders survive for messages
// whose ID and content are unchanged.
func (m *MessageListModel) Replace(msgs []ChatMessage) {
	cache := make(map[string]ChatMessage, len(m.Messages))
	for _, old := range m.Messages {
		if old.ID != "" && old.Rendered != "" {
			cache[old.ID] = old
		}
	}
	next := make([]ChatMessage, len(msgs))
	for i, msg := range msgs {
		if old, ok := cache[msg.ID]; ok && old.Content == msg.Content && !msg.Streaming {
			msg.Rendered = old.Rendered
		}
		next[i] = msg
	}
	m.Messages = next
	m.trimCount = 0
	m.trim()
}

// Clear removes all messages.
func (m *MessageListModel) Clear() {
	m.Messages = nil
	m.trimCount = 0
}

func (m *MessageListModel) trim() {
	if m.MaxMessages > 0 && len(m.Messages) > m.MaxMessages {
		excess := len(m.Messages) - m.MaxMessages
		m.Messages = m.Messages[excess:]
		m.trimCount += excess
	}
}

// View renders all messages as a single string.
func (m *MessageListModel) View() string {
	if len(m.Messages) == 0 {
		return theme.TextMuted.Render("  No messages yet. Ask something, or /lookup a word.")
	}

	width := ContentWidth(m.width)
	var sb strings.Builder
	if indicator := m.TrimmedIndicator(); indicator != "" {
		sb.WriteString(theme.TextMuted.Render("  "+indicator) + "\n\n")
	}
	for i := range m.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(&m.Messages[i], width))
	}
	return sb.String()
}

func (m *MessageListModel) renderMessage(msg *ChatMessage, width int) string {
	header := roleLabel(msg.Role)
	if ts := RelativeTime(msg.Timestamp); ts != "" {
		header += " " + theme.Timestamp.Render(ts)
	}
	headerWidth := lipgloss.Width(header)

	var body string
	switch msg.Role {
	case RoleAssistant:
		switch {
		case msg.Content == "" && msg.Streaming:
			body = theme.TextMuted.Render(theme.SymbolEllipsis)
		case msg.Streaming:
			// Partial markdown renders badly; wrap plain text until the reply ends.
			body = wrapText(msg.Content, width-2)
		default:
			if msg.Rendered == "" {
				msg.Rendered = m.md.Render(msg.Content)
			}
			body = strings.TrimSpace(msg.Rendered)
		}
	case RoleError:
		body = theme.TextError.Render(wrapText(msg.Content, width-2))
	default:
		inline := width - headerWidth - 2
		if inline < 20 {
			inline = width - 2
		}
		body = wrapText(msg.Content, inline)
	}

	if body == "" {
		return header
	}
	if width-headerWidth-2 < 20 {
		return header + "\n  " + body
	}
	lines := strings.SplitN(body, "\n", 2)
	out := header + "  " + strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		out += "\n" + lines[1]
	}
	return out
}

func roleLabel(role MessageRole) string {
	switch role {
	case RoleUser:
		return theme.UserLabel.Render(theme.SymbolUser)
	case RoleAssistant:
		return theme.BotLabel.Render(theme.SymbolBot)
	case RoleSystem:
		return theme.SystemLabel.Render("System")
	case RoleError:
		return theme.ErrorLabel.Render(theme.SymbolError + " Error")
	default:
		return theme.TextMuted.Render(string(role))
	}
}

// RelativeTime returns a short human-readable age for t.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}

// wrapText wraps s at width runes, indenting continuation lines by two spaces.
func wrapText(s string, width int) string {
	runes := []rune(s)
	if width <= 0 || len(runes) <= width {
		return s
	}
	var lines []string
	for len(runes) > width {
		idx := -1
		for i := width - 1; i > 0; i-- {
			if runes[i] == ' ' {
				idx = i
				break
			}
		}
		if idx <= 0 {
			idx = width
		}
		lines = append(lines, string(runes[:idx]))
		runes = runes[idx:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return strings.Join(lines, "\n  ")
}

// ContentWidth is the text column width for a pane of termWidth cells.
func ContentWidth(termWidth int) int {
	return theme.Clamp(termWidth-4, 20, theme.MaxContentWidth)
}

// Divider renders a horizontal rule.
func Divider(width int) string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorBorder).
		Render(strings.Repeat("─", width))
}
