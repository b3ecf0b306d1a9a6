package components

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// ChatViewModel is a scrolling viewport over a MessageListModel. It follows
// new output while the user is at the bottom and stops following once they
// scroll up.
type ChatViewModel struct {
	Viewport viewport.Model
	Messages MessageListModel
	ready    bool
	atBottom bool
}

// NewChatView creates a chat view. The viewport is built on the first SetSize.
func NewChatView() ChatViewModel {
	return ChatViewModel{
		Messages: NewMessageList(),
		atBottom: true,
	}
}

// SetMaxMessages caps the number of rendered messages.
func (m *ChatViewModel) SetMaxMessages(max int) {
	m.Messages.SetMaxMessages(max)
}

// SetSize sets the viewport dimensions and re-renders.
func (m *ChatViewModel) SetSize(w, h int) {
	m.Messages.SetWidth(w)
	if !m.ready {
		m.Viewport = viewport.New(w, h)
		m.Viewport.MouseWheelEnabled = true
		m.Viewport.MouseWheelDelta = 3
		m.ready = true
	} else {
		m.Viewport.Width = w
		m.Viewport.Height = h
	}
	m.refresh()
}

// SetMessages replaces the displayed messages.
func (m *ChatViewModel) SetMessages(msgs []ChatMessage) {
	m.Messages.Replace(msgs)
	m.refresh()
}

// Ready reports whether the viewport has been sized.
func (m ChatViewModel) Ready() bool { return m.ready }

// Update scrolls the viewport and tracks whether it sits at the bottom.
func (m ChatViewModel) Update(msg tea.Msg) (ChatViewModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	m.atBottom = m.Viewport.AtBottom()
	return m, cmd
}

// View renders the viewport.
func (m ChatViewModel) View() string {
	if !m.ready {
		return "  Initializing..."
	}
	return m.Viewport.View()
}

func (m *ChatViewModel) refresh() {
	if !m.ready {
		return
	}
	m.Viewport.SetContent(m.Messages.View())
	if m.atBottom {
		m.Viewport.GotoBottom()
	}
}
