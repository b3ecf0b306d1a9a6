// Package components provides the Bubble Tea sub-models the terminal UI is
// assembled from.
package components

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"spanlight/internal/adapter/tui/theme"
)

// Tab is a single tab entry. Mark is an optional status glyph shown after
// the label.
type Tab struct {
	ID    string
	Label string
	Mark  string
}

// TabBarModel is a horizontal tab bar. It does not consume keys; the parent
// routes navigation to Next, Prev and SetActive.
type TabBarModel struct {
	Tabs   []Tab
	Active int

	// ActiveStyle picks the style of the active tab by id. Nil means
	// theme.TabActive.
	ActiveStyle func(id string) lipgloss.Style

	width     int
	collapsed bool
}

func (m TabBarModel) activeStyle(id string) lipgloss.Style {
	if m.ActiveStyle == nil {
		return theme.TabActive
	}
	return m.ActiveStyle(id)
}

// NewTabBar creates a tab bar with the first tab active.
func NewTabBar(tabs []Tab) TabBarModel {
	return TabBarModel{Tabs: tabs}
}

// SetWidth updates the available width. Narrow bars collapse to the active tab.
func (m *TabBarModel) SetWidth(w int) {
	m.width = w
	m.collapsed = w < theme.MinTabWidth
}

// Next advances to the next tab, wrapping around.
func (m *TabBarModel) Next() {
	if len(m.Tabs) == 0 {
		return
	}
	m.Active = (m.Active + 1) % len(m.Tabs)
}

// Prev moves to the previous tab, wrapping around.
func (m *TabBarModel) Prev() {
	if len(m.Tabs) == 0 {
		return
	}
	m.Active = (m.Active - 1 + len(m.Tabs)) % len(m.Tabs)
}

// SetActive sets the active tab by index. Out of range indexes are ignored.
func (m *TabBarModel) SetActive(i int) {
	if i >= 0 && i < len(m.Tabs) {
		m.Active = i
	}
}

// Select activates the tab with id and reports whether it exists.
func (m *TabBarModel) Select(id string) bool {
	for i, t := range m.Tabs {
		if t.ID == id {
			m.Active = i
			return true
		}
	}
	return false
}

// SetMark sets the status glyph of the tab with id.
func (m *TabBarModel) SetMark(id, mark string) {
	for i := range m.Tabs {
		if m.Tabs[i].ID == id {
			m.Tabs[i].Mark = mark
			return
		}
	}
}

// ActiveID returns the id of the active tab, or "" when there are none.
func (m TabBarModel) ActiveID() string {
	if m.Active < 0 || m.Active >= len(m.Tabs) {
		return ""
	}
	return m.Tabs[m.Active].ID
}

// View renders the tab bar.
func (m TabBarModel) View() string {
	if len(m.Tabs) == 0 {
		return ""
	}

	if m.collapsed {
		t := m.Tabs[m.Active]
		label := m.activeStyle(t.ID).Render(t.Label)
		counter := theme.Dim.Render("[" + strconv.Itoa(m.Active+1) + "/" + strconv.Itoa(len(m.Tabs)) + "]")
		return lipgloss.JoinHorizontal(lipgloss.Center, label, " ", counter)
	}

	parts := make([]string, 0, len(m.Tabs))
	for i, t := range m.Tabs {
		label := t.Label
		if t.Mark != "" {
			label += " " + t.Mark
		}
		if i == m.Active {
			parts = append(parts, m.activeStyle(t.ID).Render(label))
		} else {
			parts = append(parts, theme.TabNormal.Render(label))
		}
	}

	bar := lipgloss.JoinHorizontal(lipgloss.Center, parts...)
	if m.width > 0 {
		if remaining := m.width - lipgloss.Width(bar); remaining > 0 {
			bar += theme.TabNormal.UnsetPadding().Render(strings.Repeat(" ", remaining))
		}
	}
	return bar
}
