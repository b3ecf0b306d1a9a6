package llm

import (
	"context"
	"sync/atomic"
	"testing"

	"spanlight/internal/domain"
)

// fakeStreamer is a scripted TokenStreamer.
type fakeStreamer struct {
	name   string
	tokens []string
	err    error
	calls  atomic.Int32
}

func (f *fakeStreamer) Name() string { return f.name }

func (f *fakeStreamer) StreamTokens(ctx context.Context, _ domain.PromptRequest) (<-chan domain.StreamDelta, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan domain.StreamDelta, len(f.tokens))
	for _, tok := range f.tokens {
		ch <- domain.StreamDelta{Content: tok}
	}
	close(ch)
	return ch, nil
}

// drain collects deltas until the channel closes.
func drain(t *testing.T, ch <-chan domain.StreamDelta) (tokens []string, err error) {
	t.Helper()
	for d := range ch {
		if d.Err != nil {
			err = d.Err
		}
		if d.Content != "" {
			tokens = append(tokens, d.Content)
		}
	}
	return tokens, err
}
