package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialSource(t *testing.T) {
	tests := []struct {
		span string
		want Source
	}{
		{"recursion", SourceDictionary},
		{"  recursion  ", SourceDictionary},
		{"tail recursion", SourceEncyclopedia},
		{"Large language model", SourceEncyclopedia},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InitialSource(tt.span), tt.span)
	}
}

func TestLookupKeys(t *testing.T) {
	assert.Equal(t, "recursion", DictionaryKey("Recursion"))
	assert.Equal(t, "tail", DictionaryKey("  Tail recursion"))
	assert.Equal(t, "", DictionaryKey("   "))
	assert.Equal(t, "Tail recursion", EncyclopediaKey("  Tail recursion "))
}

func TestSourceNext(t *testing.T) {
	next, ok := SourceDictionary.Next()
	require.True(t, ok)
	assert.Equal(t, SourceEncyclopedia, next)

	next, ok = SourceEncyclopedia.Next()
	require.True(t, ok)
	assert.Equal(t, SourceAssistant, next)

	_, ok = SourceAssistant.Next()
	assert.False(t, ok)
	assert.True(t, SourceAssistant.Terminal())
	assert.False(t, Source("bogus").Valid())
}

func TestNewLookupRequest(t *testing.T) {
	req, err := NewLookupRequest("  recursion ", "ctx", Position{X: 1, Y: 2})
	require.NoError(t, err)
	assert.Equal(t, "recursion", req.SpanText)

	_, err = NewLookupRequest("   ", "", Position{})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = NewLookupRequest(strings.Repeat("a", MaxSpanLength+1), "", Position{})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestSourceStateEmpty(t *testing.T) {
	assert.True(t, SourceState{}.Empty())
	assert.False(t, SourceState{Loading: true}.Empty())
	assert.False(t, SourceState{Err: "x"}.Empty())
	assert.False(t, SourceState{Text: "x"}.Empty())
	assert.True(t, SourceState{Summary: &EncyclopediaSummary{}}.HasData())
}

func TestPopoverStateCloneIsDeep(t *testing.T) {
	p := NewPopoverState()
	p.Sources[SourceEncyclopedia] = SourceState{Summary: &EncyclopediaSummary{Title: "A", Thumbnail: &Thumbnail{Width: 1}}}

	c := p.Clone()
	c.Sources[SourceEncyclopedia].Summary.Title = "B"
	c.Sources[SourceEncyclopedia].Summary.Thumbnail.Width = 2
	c.Sources[SourceDictionary] = SourceState{Loading: true}

	assert.Equal(t, "A", p.Sources[SourceEncyclopedia].Summary.Title)
	assert.Equal(t, 1, p.Sources[SourceEncyclopedia].Summary.Thumbnail.Width)
	assert.True(t, p.Source(SourceDictionary).Empty())
}
