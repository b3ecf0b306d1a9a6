package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"spanlight/internal/adapter/tui/theme"
)

// KeyHint is a keybinding hint shown in the status bar.
type KeyHint struct {
	Key  string
	Desc string
}

// StatusBarModel renders the bottom line: key hints on the left, the
// active chat and relay on the right, and a transient activity note.
type StatusBarModel struct {
	Hints    []KeyHint
	ChatName string
	Relay    string
	Extra    string
	width    int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// View renders the status bar as a single line.
func (m StatusBarModel) View() string {
	hints := make([]string, 0, len(m.Hints))
	for _, h := range m.Hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Dim.Render("|")+"  ")

	var info []string
	if m.ChatName != "" {
		info = append(info, m.ChatName)
	}
	if m.Relay != "" {
		info = append(info, m.Relay)
	}
	right := theme.TextMuted.Render(strings.Join(info, " "+theme.SymbolBullet+" "))
	if m.Extra != "" {
		if right != "" {
			right += "  "
		}
		right += theme.TextInfo.Render(m.Extra)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}
