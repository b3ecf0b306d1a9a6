package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"spanlight/internal/adapter/tui/theme"
)

// Pane identifies a side of the split.
type Pane int

// Panes.
const (
	PaneLeft Pane = iota
	PaneRight
)

// SplitPaneModel lays out the chat (left) and the lookup pane (right) side
// by side and tracks which one has focus. The right pane never shows on
// terminals narrower than theme.MinSplitWidth.
type SplitPaneModel struct {
	Focused Pane
	Visible bool
	Ratio   float64
	width   int
	height  int
}

// NewSplitPane creates a split with ratio of the width on the left.
func NewSplitPane(ratio float64) SplitPaneModel {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.6
	}
	return SplitPaneModel{Ratio: ratio}
}

// SetSize updates the available dimensions.
func (m *SplitPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if w < theme.MinSplitWidth {
		m.hide()
	}
}

// Show opens the right pane if there is room and reports whether it is open.
func (m *SplitPaneModel) Show() bool {
	if m.width >= theme.MinSplitWidth {
		m.Visible = true
	}
	return m.Visible
}

// Toggle opens or closes the right pane.
func (m *SplitPaneModel) Toggle() {
	if m.Visible {
		m.hide()
		return
	}
	m.Show()
}

func (m *SplitPaneModel) hide() {
	m.Visible = false
	m.Focused = PaneLeft
}

// SwitchFocus moves focus to the other pane.
func (m *SplitPaneModel) SwitchFocus() {
	if !m.Visible {
		return
	}
	if m.Focused == PaneLeft {
		m.Focused = PaneRight
	} else {
		m.Focused = PaneLeft
	}
}

// LeftWidth is the width of the left pane.
func (m SplitPaneModel) LeftWidth() int {
	if !m.Visible {
		return m.width
	}
	return int(float64(m.width-1) * m.Ratio)
}

// RightWidth is the width of the right pane, 0 when hidden.
func (m SplitPaneModel) RightWidth() int {
	if !m.Visible {
		return 0
	}
	return m.width - 1 - m.LeftWidth()
}

// Height is the content height.
func (m SplitPaneModel) Height() int {
	return m.height
}

// Render joins both panes with a divider that lights up when the right
// pane has focus.
func (m SplitPaneModel) Render(left, right string) string {
	if !m.Visible {
		return left
	}
	color := theme.ColorBorder
	if m.Focused == PaneRight {
		color = theme.ColorBorderActive
	}
	bar := lipgloss.NewStyle().Foreground(color).Render("│")
	rows := make([]string, max(m.height, 1))
	for i := range rows {
		rows[i] = bar
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, strings.Join(rows, "\n"), right)
}
