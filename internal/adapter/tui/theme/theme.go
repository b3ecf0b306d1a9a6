// Package theme holds the colors, glyphs and lipgloss styles of the terminal
// UI. Colors are adaptive; NO_COLOR is honored by lipgloss's profile
// detection.
package theme

import (
	"github.com/charmbracelet/lipgloss"
)

// Roles. The chat side uses the user and assistant colors; the lookup pane
// gives each source its own accent.
var (
	ColorUser      = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	ColorAssistant = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	ColorFailure   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	ColorMuted     = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	ColorFaint     = lipgloss.AdaptiveColor{Light: "#9e9e9e", Dark: "#757575"}

	ColorDictionary   = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	ColorEncyclopedia = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}

	ColorBorder       = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
	ColorBorderActive = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#42a5f5"}

	colorBar      = lipgloss.AdaptiveColor{Light: "#f5f5f5", Dark: "#2d2d2d"}
	colorTabBg    = lipgloss.AdaptiveColor{Light: "#e0e0e0", Dark: "#333333"}
	colorTabFg    = lipgloss.AdaptiveColor{Light: "#616161", Dark: "#9e9e9e"}
	colorTabActFg = lipgloss.AdaptiveColor{Light: "#ffffff", Dark: "#1e1e1e"}
)

// Labels shown before chat messages.
var (
	SymbolUser = "You"
	SymbolBot  = "Spanlight"
)

var (
	Dim        = lipgloss.NewStyle().Faint(true)
	TextMuted  = lipgloss.NewStyle().Foreground(ColorMuted)
	TextInfo   = lipgloss.NewStyle().Foreground(ColorUser)
	TextError  = lipgloss.NewStyle().Foreground(ColorFailure).Bold(true)
	Timestamp  = lipgloss.NewStyle().Foreground(ColorFaint).Faint(true)
	UserLabel  = lipgloss.NewStyle().Foreground(ColorUser).Bold(true)
	BotLabel   = lipgloss.NewStyle().Foreground(ColorAssistant).Bold(true)
	ErrorLabel = lipgloss.NewStyle().Foreground(ColorFailure).Bold(true)

	SystemLabel = lipgloss.NewStyle().Foreground(ColorMuted).Bold(true)
)

// Bars.
var (
	TabNormal = lipgloss.NewStyle().Foreground(colorTabFg).Background(colorTabBg).Padding(0, 2)
	TabActive = lipgloss.NewStyle().Foreground(colorTabActFg).Background(ColorBorderActive).Bold(true).Padding(0, 2)

	StatusBar = lipgloss.NewStyle().Foreground(ColorFaint).Background(colorBar).Padding(0, 1)
	StatusKey = lipgloss.NewStyle().Foreground(ColorUser).Bold(true)

	InputPrompt      = lipgloss.NewStyle().Foreground(ColorUser).Bold(true)
	InputPlaceholder = lipgloss.NewStyle().Foreground(ColorFaint)
)

// Lookup pane.
var (
	LookupSpan   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	LookupNotice = lipgloss.NewStyle().Foreground(ColorMuted).Italic(true).Padding(1, 1)
	LookupError  = lipgloss.NewStyle().Foreground(ColorFailure).Padding(1, 1)
)

// SourceColor is the accent of a lookup source, keyed by its name. The
// assistant shares the chat's assistant color.
func SourceColor(source string) lipgloss.TerminalColor {
	switch source {
	case "dictionary":
		return ColorDictionary
	case "encyclopedia":
		return ColorEncyclopedia
	case "assistant":
		return ColorAssistant
	}
	return ColorMuted
}

// SourceTab is the active-tab style of a lookup source.
func SourceTab(source string) lipgloss.Style {
	return TabActive.Background(SourceColor(source))
}

const (
	// MaxContentWidth is the widest text column rendered.
	MaxContentWidth = 100
	// MinSplitWidth is the narrowest terminal that shows the lookup pane.
	MinSplitWidth   = 90
	// MinTabWidth is the narrowest width that shows every tab label.
	MinTabWidth     = 40
)

// Clamp returns v clamped to [lo, hi].
func Clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
