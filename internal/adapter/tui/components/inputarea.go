package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"spanlight/internal/adapter/tui/theme"
)

// InputSubmitMsg is emitted when the user submits non-blank input.
type InputSubmitMsg struct {
	Value string
}

// InputAbortMsg is emitted when Enter is pressed on blank input while a reply
// is streaming.
type InputAbortMsg struct{}

const (
	placeholderIdle = "Ask something, or /lookup a word"
	placeholderBusy = "Replying... Enter on empty input cancels"
)

// InputAreaModel is the chat prompt: a textarea with slash-command
// autocomplete. Enter submits; Alt+Enter or Ctrl+J inserts a newline.
type InputAreaModel struct {
	Textarea     textarea.Model
	Autocomplete AutocompleteModel
	busy         bool
}

// NewInputArea creates a focused input area.
func NewInputArea() InputAreaModel {
	ta := textarea.New()
	ta.Placeholder = placeholderIdle
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = theme.InputPrompt
	ta.FocusedStyle.Placeholder = theme.InputPlaceholder
	ta.Focus()

	return InputAreaModel{Textarea: ta}
}

// SetWidth sizes the textarea and its popup. Two columns go to the prompt.
func (m *InputAreaModel) SetWidth(w int) {
	m.Textarea.SetWidth(w - 2)
	m.Autocomplete.SetWidth(w)
}

// SetBusy tells the input whether a reply is streaming. Input stays enabled;
// a new message supersedes the reply.
func (m *InputAreaModel) SetBusy(busy bool) {
	m.busy = busy
	m.Textarea.Placeholder = placeholderIdle
	if busy {
		m.Textarea.Placeholder = placeholderBusy
	}
}

// Value returns the current input text.
func (m InputAreaModel) Value() string {
	return m.Textarea.Value()
}

// Update handles key events. Mouse events never reach the textarea.
func (m InputAreaModel) Update(msg tea.Msg) (InputAreaModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.MouseMsg:
		return m, nil
	case tea.KeyMsg:
		if m.Autocomplete.Visible && m.popupKey(msg) {
			return m, nil
		}
		if msg.Type == tea.KeyEnter && !msg.Alt {
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.Textarea, cmd = m.Textarea.Update(msg)

	// Complete only the command word.
	if value := m.Textarea.Value(); strings.HasPrefix(value, "/") && !strings.Contains(value, " ") {
		m.Autocomplete.SetPrefix(value)
	} else {
		m.Autocomplete.Hide()
	}
	return m, cmd
}

// popupKey moves or accepts the autocomplete selection and reports whether
// the key was used.
func (m *InputAreaModel) popupKey(key tea.KeyMsg) bool {
	switch key.Type {
	case tea.KeyTab, tea.KeyDown:
		m.Autocomplete.SelectNext()
	case tea.KeyShiftTab, tea.KeyUp:
		m.Autocomplete.SelectPrev()
	case tea.KeyEnter:
		if accepted := m.Autocomplete.Accept(); accepted != "" {
			m.Textarea.SetValue(accepted + " ")
			m.Textarea.CursorEnd()
		}
	case tea.KeyEsc:
		m.Autocomplete.Hide()
	default:
		return false
	}
	return true
}

func (m InputAreaModel) submit() (InputAreaModel, tea.Cmd) {
	value := strings.TrimSpace(m.Textarea.Value())
	if value == "" {
		if !m.busy {
			return m, nil
		}
		return m, func() tea.Msg { return InputAbortMsg{} }
	}
	m.Textarea.Reset()
	m.Autocomplete.Hide()
	return m, func() tea.Msg { return InputSubmitMsg{Value: value} }
}

// View renders the input with the autocomplete popup above it.
func (m InputAreaModel) View() string {
	if popup := m.Autocomplete.View(); popup != "" {
		return popup + "\n" + m.Textarea.View()
	}
	return m.Textarea.View()
}
