package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"spanlight/internal/adapter/tui/theme"
)

// CommandDef describes a slash command offered by autocomplete.
type CommandDef struct {
	Name        string // "/lookup"
	Args        string // "<word> [| context]"
	Description string
}

// AutocompleteModel is the slash-command popup shown above the input.
type AutocompleteModel struct {
	Commands []CommandDef
	Filtered []CommandDef
	Selected int
	Visible  bool
	maxShow  int
	width    int
}

// NewAutocomplete creates a popup over commands.
func NewAutocomplete(commands []CommandDef) AutocompleteModel {
	return AutocompleteModel{Commands: commands, maxShow: 7}
}

// SetWidth updates the popup width.
func (m *AutocompleteModel) SetWidth(w int) {
	m.width = w
}

// SetPrefix filters the commands by prefix. An empty prefix hides the popup.
func (m *AutocompleteModel) SetPrefix(prefix string) {
	prefix = strings.ToLower(prefix)
	m.Filtered = m.Filtered[:0]
	for _, c := range m.Commands {
		if strings.HasPrefix(c.Name, prefix) {
			m.Filtered = append(m.Filtered, c)
		}
	}
	m.Visible = prefix != "" && len(m.Filtered) > 0
	if m.Selected >= len(m.Filtered) {
		m.Selected = 0
	}
}

// Hide closes the popup.
func (m *AutocompleteModel) Hide() {
	m.Visible = false
	m.Filtered = nil
	m.Selected = 0
}

// SelectNext moves the selection down, wrapping.
func (m *AutocompleteModel) SelectNext() {
	if n := len(m.Filtered); n > 0 {
		m.Selected = (m.Selected + 1) % n
	}
}

// SelectPrev moves the selection up, wrapping.
func (m *AutocompleteModel) SelectPrev() {
	if n := len(m.Filtered); n > 0 {
		m.Selected = (m.Selected - 1 + n) % n
	}
}

// Accept returns the selected command name and closes the popup.
func (m *AutocompleteModel) Accept() string {
	if len(m.Filtered) == 0 {
		return ""
	}
	name := m.Filtered[m.Selected].Name
	m.Hide()
	return name
}

// View renders the popup, or "" when hidden.
func (m AutocompleteModel) View() string {
	if !m.Visible || len(m.Filtered) == 0 {
		return ""
	}

	show := m.Filtered
	if len(show) > m.maxShow {
		show = show[:m.maxShow]
	}
	descWidth := max(m.width-4-26, 10)

	lines := make([]string, 0, len(show))
	for i, c := range show {
		usage := c.Name
		if c.Args != "" {
			usage += " " + c.Args
		}
		usage = lipgloss.NewStyle().Width(24).MaxWidth(24).Render(usage)
		desc := lipgloss.NewStyle().MaxWidth(descWidth).Render(c.Description)

		prefix := "  "
		if i == m.Selected {
			prefix = theme.TextInfo.Render(theme.SymbolArrowR + " ")
		}
		lines = append(lines, prefix+usage+" "+theme.TextMuted.Render(desc))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorderActive).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}

// ParseSlashCommand splits "/cmd arg..." into a lower-cased command and its
// arguments.
func ParseSlashCommand(input string) (cmd string, args []string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", nil, false
	}
	parts := strings.Fields(input)
	return strings.ToLower(parts[0]), parts[1:], true
}
