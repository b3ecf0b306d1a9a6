package llm

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
)

// testDecoder feeds a fixed sequence of events to the ssestream.Stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

// scriptedMessages returns a stream built from raw event payloads and
// records the params it was called with.
type scriptedMessages struct {
	events    []ssestream.Event
	decErr    error
	streamErr error
	got       sdk.MessageNewParams
}

func (s *scriptedMessages) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.got = body
	return ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{events: s.events, err: s.decErr}, s.streamErr)
}

func ev(typ, data string) ssestream.Event {
	return ssestream.Event{Type: typ, Data: []byte(data)}
}

func textDelta(text string) ssestream.Event {
	return ev("content_block_delta",
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"`+text+`"}}`)
}

func TestAnthropicStreamTokens(t *testing.T) {
	msgs := &scriptedMessages{events: []ssestream.Event{
		ev("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":10,"output_tokens":1}}}`),
		ev("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		ev("ping", `{"type":"ping"}`),
		textDelta("A closure"),
		textDelta(" captures"),
		ev("content_block_stop", `{"type":"content_block_stop","index":0}`),
		ev("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":7}}`),
		ev("message_stop", `{"type":"message_stop"}`),
	}}
	p := newAnthropicProvider("anthropic", "claude-3-5-sonnet-20241022", msgs, nil)

	ch, err := p.StreamTokens(context.Background(), domain.PromptRequest{
		System:    "explain briefly",
		Prompt:    `Explain this term: "closure"`,
		MaxTokens: 300,
	})
	require.NoError(t, err)

	var tokens []string
	var usage *domain.Usage
	for d := range ch {
		require.NoError(t, d.Err)
		if d.Content != "" {
			tokens = append(tokens, d.Content)
		}
		if d.Usage != nil {
			usage = d.Usage
		}
	}
	assert.Equal(t, []string{"A closure", " captures"}, tokens)
	require.NotNil(t, usage)
	assert.Equal(t, 7, usage.CompletionTokens)

	assert.Equal(t, int64(300), msgs.got.MaxTokens)
	assert.Equal(t, sdk.Model("claude-3-5-sonnet-20241022"), msgs.got.Model)
	require.Len(t, msgs.got.System, 1)
	assert.Equal(t, "explain briefly", msgs.got.System[0].Text)
	require.Len(t, msgs.got.Messages, 1)
}

func TestAnthropicDefaultMaxTokens(t *testing.T) {
	msgs := &scriptedMessages{events: []ssestream.Event{ev("message_stop", `{"type":"message_stop"}`)}}
	p := newAnthropicProvider("anthropic", "m", msgs, nil)

	ch, err := p.StreamTokens(context.Background(), domain.PromptRequest{Prompt: "x"})
	require.NoError(t, err)
	tokens, streamErr := drain(t, ch)
	assert.Empty(t, tokens)
	assert.NoError(t, streamErr)
	assert.Equal(t, int64(defaultAnthropicMaxTokens), msgs.got.MaxTokens)
	assert.Empty(t, msgs.got.System)
}

func TestAnthropicOpenFailure(t *testing.T) {
	msgs := &scriptedMessages{streamErr: errors.New("dial tcp: refused")}
	p := newAnthropicProvider("anthropic", "m", msgs, nil)

	_, err := p.StreamTokens(context.Background(), domain.PromptRequest{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestAnthropicMidStreamError(t *testing.T) {
	msgs := &scriptedMessages{events: []ssestream.Event{
		textDelta("half"),
		ev("error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`),
		textDelta("never"),
	}}
	p := newAnthropicProvider("anthropic", "m", msgs, nil)

	ch, err := p.StreamTokens(context.Background(), domain.PromptRequest{Prompt: "x"})
	require.NoError(t, err)
	tokens, streamErr := drain(t, ch)

	assert.Equal(t, []string{"half"}, tokens)
	require.Error(t, streamErr)
	assert.ErrorIs(t, streamErr, domain.ErrProviderError)
}

func TestAnthropicEmptyStreamCompletes(t *testing.T) {
	p := newAnthropicProvider("anthropic", "m", &scriptedMessages{}, nil)
	ch, err := p.StreamTokens(context.Background(), domain.PromptRequest{Prompt: "x"})
	require.NoError(t, err)
	tokens, streamErr := drain(t, ch)
	assert.Empty(t, tokens)
	assert.NoError(t, streamErr)
}

func TestNewAnthropicProviderRequiresKey(t *testing.T) {
	_, err := NewAnthropicProvider(config.ProviderConfig{Name: "anthropic", Type: "anthropic"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)

	p, err := NewAnthropicProvider(config.ProviderConfig{Name: "anthropic", Type: "anthropic", APIKey: "k", Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}
