package domain

import (
	"strings"
	"unicode/utf8"
)

// Source is one of the three lookup backends behind the popover.
type Source string

// Lookup sources in cascade order.
const (
	SourceDictionary   Source = "dictionary"
	SourceEncyclopedia Source = "encyclopedia"
	SourceAssistant    Source = "assistant"
)

// CascadeOrder is the fixed order in which lookup sources are tried.
var CascadeOrder = []Source{SourceDictionary, SourceEncyclopedia, SourceAssistant}

// Valid reports whether s names a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceDictionary, SourceEncyclopedia, SourceAssistant:
		return true
	}
	return false
}

// Next returns the source after s in the cascade. The assistant is terminal.
func (s Source) Next() (Source, bool) {
	switch s {
	case SourceDictionary:
		return SourceEncyclopedia, true
	case SourceEncyclopedia:
		return SourceAssistant, true
	}
	return "", false
}

// Terminal reports whether s is the last source in the cascade.
func (s Source) Terminal() bool {
	_, ok := s.Next()
	return !ok
}

// MaxSpanLength bounds the number of characters accepted as a lookup span.
const MaxSpanLength = 500

// Position is the on-screen anchor of a popover.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// LookupRequest is a user selection to be explained.
type LookupRequest struct {
	SpanText string   `json:"spanText"`
	Context  string   `json:"context"`
	Position Position `json:"position"`
}

// NewLookupRequest validates span and builds a request. The span is trimmed.
func NewLookupRequest(span, context string, pos Position) (LookupRequest, error) {
	span = strings.TrimSpace(span)
	if span == "" {
		return LookupRequest{}, NewSubSystemError("lookup", "LookupRequest.New", ErrInvalidInput, "span is empty")
	}
	if utf8.RuneCountInString(span) > MaxSpanLength {
		return LookupRequest{}, NewSubSystemError("lookup", "LookupRequest.New", ErrInvalidInput, "span too long")
	}
	return LookupRequest{SpanText: span, Context: context, Position: pos}, nil
}

// WordCount returns the number of whitespace-separated words in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// InitialSource picks the first source for a span: one word starts at the
// dictionary, anything longer at the encyclopedia.
func InitialSource(span string) Source {
	if WordCount(span) <= 1 {
		return SourceDictionary
	}
	return SourceEncyclopedia
}

// DictionaryKey is the dictionary lookup key: the first token, lower-cased.
func DictionaryKey(span string) string {
	fields := strings.Fields(span)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// EncyclopediaKey is the encyclopedia lookup key: the trimmed span.
func EncyclopediaKey(span string) string {
	return strings.TrimSpace(span)
}

// DictionaryEntry is one headword returned by the dictionary source.
type DictionaryEntry struct {
	Word      string     `json:"word"`
	Phonetic  string     `json:"phonetic,omitempty"`
	Phonetics []Phonetic `json:"phonetics,omitempty"`
	Meanings  []Meaning  `json:"meanings"`
}

// Phonetic is a pronunciation variant.
type Phonetic struct {
	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"`
}

// Meaning groups definitions by part of speech.
type Meaning struct {
	PartOfSpeech string       `json:"partOfSpeech"`
	Definitions  []Definition `json:"definitions"`
	Synonyms     []string     `json:"synonyms,omitempty"`
}

// Definition is a single sense of a word.
type Definition struct {
	Definition string `json:"definition"`
	Example    string `json:"example,omitempty"`
}

// EncyclopediaSummary is the article abstract returned by the encyclopedia source.
type EncyclopediaSummary struct {
	Title     string     `json:"title"`
	Extract   string     `json:"extract"`
	Thumbnail *Thumbnail `json:"thumbnail,omitempty"`
	PageURL   string     `json:"pageUrl"`
}

// Thumbnail is an article image reference.
type Thumbnail struct {
	Source string `json:"source"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// SourceState is the per-source view of a lookup. Apart from the assistant's
// partial text during streaming, exactly one of data, Loading and Err is set,
// or none of them.
type SourceState struct {
	Entries []DictionaryEntry    `json:"entries,omitempty"`
	Summary *EncyclopediaSummary `json:"summary,omitempty"`
	Text    string               `json:"text,omitempty"`
	Loading bool                 `json:"loading"`
	Err     string               `json:"error,omitempty"`
}

// HasData reports whether the source produced a result.
func (s SourceState) HasData() bool {
	return len(s.Entries) > 0 || s.Summary != nil || s.Text != ""
}

// Empty reports whether the source has not been touched for this lookup.
func (s SourceState) Empty() bool {
	return !s.HasData() && !s.Loading && s.Err == ""
}

// PopoverState is the observable state of the lookup popover. Version
// increases on every change so observers can discard stale snapshots.
type PopoverState struct {
	Visible   bool                   `json:"visible"`
	Request   LookupRequest          `json:"request"`
	ActiveTab Source                 `json:"activeTab"`
	Sources   map[Source]SourceState `json:"sources"`
	Version   uint64                 `json:"version"`
}

// NewPopoverState returns a hidden popover with every source empty.
func NewPopoverState() PopoverState {
	return PopoverState{
		ActiveTab: SourceDictionary,
		Sources:   make(map[Source]SourceState, len(CascadeOrder)),
	}
}

// Source returns the state of src.
func (p PopoverState) Source(src Source) SourceState {
	return p.Sources[src]
}

// Clone returns a deep copy safe to hand to observers.
func (p PopoverState) Clone() PopoverState {
	out := p
	out.Sources = make(map[Source]SourceState, len(p.Sources))
	for k, v := range p.Sources {
		v.Entries = append([]DictionaryEntry(nil), v.Entries...)
		if v.Summary != nil {
			s := *v.Summary
			if s.Thumbnail != nil {
				th := *s.Thumbnail
				s.Thumbnail = &th
			}
			v.Summary = &s
		}
		out.Sources[k] = v
	}
	return out
}
