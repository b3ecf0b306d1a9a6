package theme

import (
	"os"
	"strings"
)

// Glyphs. InitSymbols swaps in ASCII on terminals without UTF-8. The same
// three state glyphs mark lookup tabs.
var (
	SymbolSuccess  = "✓"
	SymbolError    = "✗"
	SymbolArrowR   = "→"
	SymbolBullet   = "•"
	SymbolEllipsis = "…"
)

type glyphs struct {
	success, failure, arrow, bullet, ellipsis string
}

var (
	unicodeGlyphs = glyphs{"✓", "✗", "→", "•", "…"}
	asciiGlyphs   = glyphs{"[OK]", "[ERR]", "->", "*", "..."}
)

// UnicodeSupported reports whether the terminal likely renders Unicode.
// SPANLIGHT_ASCII_SYMBOLS=1 forces ASCII; otherwise a UTF-8 locale or an
// unset locale means yes.
func UnicodeSupported() bool {
	if v := os.Getenv("SPANLIGHT_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		if val := strings.ToLower(os.Getenv(key)); val != "" {
			return strings.Contains(val, "utf-8") || strings.Contains(val, "utf8")
		}
	}
	return true
}

// InitSymbols selects the glyph set for the current environment.
func InitSymbols() {
	g := unicodeGlyphs
	if !UnicodeSupported() {
		g = asciiGlyphs
	}
	SymbolSuccess, SymbolError = g.success, g.failure
	SymbolArrowR, SymbolBullet, SymbolEllipsis = g.arrow, g.bullet, g.ellipsis
}

func init() {
	InitSymbols()
}
