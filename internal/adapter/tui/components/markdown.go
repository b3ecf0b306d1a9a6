package components

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// Markdown renders markdown to ANSI text at a fixed wrap width. The glamour
// renderer is built lazily and rebuilt when the width changes.
type Markdown struct {
	width    int
	renderer *glamour.TermRenderer
	failed   bool
}

// SetWidth changes the wrap width.
func (m *Markdown) SetWidth(w int) {
	if w == m.width {
		return
	}
	m.width = w
	m.renderer = nil
	m.failed = false
}

// Render returns the rendered text. When glamour cannot be used the source
// is returned indented, so output is never lost.
func (m *Markdown) Render(src string) string {
	if m.renderer == nil && !m.failed {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(m.width),
		)
		if err != nil {
			m.failed = true
		} else {
			m.renderer = r
		}
	}
	if m.renderer == nil {
		return "  " + src
	}
	out, err := m.renderer.Render(src)
	if err != nil {
		return "  " + src
	}
	return strings.Trim(out, "\n")
}
