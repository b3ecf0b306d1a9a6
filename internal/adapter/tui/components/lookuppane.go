package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"spanlight/internal/adapter/tui/theme"
	"spanlight/internal/domain"
)

// LookupPaneModel renders the popover state: the looked-up span, one tab per
// source in cascade order, and the active source's content.
type LookupPaneModel struct {
	Tabs     TabBarModel
	Viewport viewport.Model
	state    domain.PopoverState
	md       Markdown
	spinner  string
	width    int
	height   int
	ready    bool
}

// NewLookupPane creates an empty lookup pane.
func NewLookupPane() LookupPaneModel {
	tabs := make([]Tab, 0, len(domain.CascadeOrder))
	for _, src := range domain.CascadeOrder {
		tabs = append(tabs, Tab{ID: string(src), Label: SourceLabel(src)})
	}
	bar := NewTabBar(tabs)
	bar.ActiveStyle = theme.SourceTab
	return LookupPaneModel{
		Tabs:  bar,
		state: domain.NewPopoverState(),
	}
}

// SourceLabel is the tab label of src.
func SourceLabel(src domain.Source) string {
	switch src {
	case domain.SourceDictionary:
		return "Dictionary"
	case domain.SourceEncyclopedia:
		return "Wikipedia"
	case domain.SourceAssistant:
		return "AI"
	}
	return string(src)
}

// SetSize sets the pane dimensions. Two rows go to the span and the tabs.
func (m *LookupPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.Tabs.SetWidth(w)
	m.md.SetWidth(ContentWidth(w))
	bodyH := max(h-2, 1)
	if !m.ready {
		m.Viewport = viewport.New(w, bodyH)
		m.Viewport.MouseWheelEnabled = true
		m.ready = true
	} else {
		m.Viewport.Width = w
		m.Viewport.Height = bodyH
	}
	m.refresh()
}

// SetState shows a popover snapshot.
func (m *LookupPaneModel) SetState(s domain.PopoverState) {
	reset := s.Request.SpanText != m.state.Request.SpanText || s.ActiveTab != m.state.ActiveTab
	m.state = s
	for _, src := range domain.CascadeOrder {
		m.Tabs.SetMark(string(src), sourceMark(s.Source(src)))
	}
	m.Tabs.Select(string(s.ActiveTab))
	m.refresh()
	if reset && m.ready {
		m.Viewport.GotoTop()
	}
}

// State returns the popover snapshot on display.
func (m LookupPaneModel) State() domain.PopoverState {
	return m.state
}

// SetSpinner sets the frame drawn next to loading sources.
func (m *LookupPaneModel) SetSpinner(frame string) {
	if frame == m.spinner {
		return
	}
	m.spinner = frame
	if m.state.Source(m.state.ActiveTab).Loading {
		m.refresh()
	}
}

// Update scrolls the content.
func (m LookupPaneModel) Update(msg tea.Msg) (LookupPaneModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	return m, cmd
}

// View renders the pane.
func (m LookupPaneModel) View() string {
	if !m.ready {
		return ""
	}
	header := theme.TextMuted.Render(" Lookup")
	if m.state.Visible {
		header = theme.LookupSpan.
			Foreground(theme.SourceColor(string(m.state.ActiveTab))).
			MaxWidth(m.width).
			Render(m.state.Request.SpanText)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, m.Tabs.View(), m.Viewport.View())
}

func (m *LookupPaneModel) refresh() {
	if !m.ready {
		return
	}
	m.Viewport.SetContent(m.body())
}

func (m *LookupPaneModel) body() string {
	width := ContentWidth(m.width)
	if !m.state.Visible {
		return theme.LookupNotice.Width(width).Render("Use /lookup <word> to look something up. Ctrl+N and Ctrl+P switch sources.")
	}
	src := m.state.ActiveTab
	st := m.state.Source(src)
	switch {
	case st.Err != "":
		return theme.LookupError.Width(width).Render(theme.SymbolError + " " + st.Err)
	case st.Loading && st.Text != "":
		return " " + wrapText(st.Text, width-2) + " " + m.spinner
	case st.Loading:
		return theme.LookupNotice.Render(m.spinner + " Looking up " + SourceLabel(src) + theme.SymbolEllipsis)
	case st.HasData():
		return m.md.Render(FormatSource(src, st))
	}
	return theme.LookupNotice.Render("Nothing loaded from " + SourceLabel(src) + ".")
}

func sourceMark(st domain.SourceState) string {
	switch {
	case st.Err != "":
		return theme.SymbolError
	case st.Loading:
		return theme.SymbolEllipsis
	case st.HasData():
		return theme.SymbolSuccess
	}
	return ""
}

// FormatSource renders a source's data as markdown.
func FormatSource(src domain.Source, st domain.SourceState) string {
	var sb strings.Builder
	switch src {
	case domain.SourceDictionary:
		for i, e := range st.Entries {
			if i > 0 {
				sb.WriteString("\n---\n\n")
			}
			writeEntry(&sb, e)
		}
	case domain.SourceEncyclopedia:
		if s := st.Summary; s != nil {
			fmt.Fprintf(&sb, "## %s\n\n%s\n", s.Title, s.Extract)
			if s.PageURL != "" {
				fmt.Fprintf(&sb, "\n[Read more](%s)\n", s.PageURL)
			}
		}
	case domain.SourceAssistant:
		sb.WriteString(st.Text)
	}
	return sb.String()
}

func writeEntry(sb *strings.Builder, e domain.DictionaryEntry) {
	fmt.Fprintf(sb, "## %s\n\n", e.Word)
	phonetic := e.Phonetic
	for _, p := range e.Phonetics {
		if phonetic != "" {
			break
		}
		phonetic = p.Text
	}
	if phonetic != "" {
		fmt.Fprintf(sb, "*%s*\n\n", phonetic)
	}
	for _, mn := range e.Meanings {
		fmt.Fprintf(sb, "**%s**\n\n", mn.PartOfSpeech)
		for n, d := range mn.Definitions {
			fmt.Fprintf(sb, "%d. %s\n", n+1, d.Definition)
			if d.Example != "" {
				fmt.Fprintf(sb, "   *\"%s\"*\n", d.Example)
			}
		}
		if len(mn.Synonyms) > 0 {
			fmt.Fprintf(sb, "\nSynonyms: %s\n", strings.Join(mn.Synonyms, ", "))
		}
		sb.WriteString("\n")
	}
}
