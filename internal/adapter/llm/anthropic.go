package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"go.opentelemetry.io/otel/trace"

	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
	"spanlight/internal/infra/httpclient"
	"spanlight/internal/infra/tracer"
)

// defaultAnthropicMaxTokens applies when a request does not set MaxTokens;
// the Messages API requires one.
const defaultAnthropicMaxTokens = 1024

// messageStreamer is the slice of *sdk.MessageService the provider uses.
type messageStreamer interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicProvider streams from the Anthropic Messages API through the
// official SDK.
type AnthropicProvider struct {
	name   string
	model  string
	msg    messageStreamer
	logger *slog.Logger
}

// NewAnthropicProvider creates a provider from config. The API key is required.
func NewAnthropicProvider(cfg config.ProviderConfig, logger *slog.Logger) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewSubSystemError("llm", "NewAnthropicProvider", domain.ErrAuthInvalid,
			"api_key is empty (set ANTHROPIC_API_KEY)")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpclient.ForProvider(cfg)),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := sdk.NewClient(opts...)
	return newAnthropicProvider(cfg.Name, cfg.Model, &client.Messages, logger), nil
}

func newAnthropicProvider(name, model string, msg messageStreamer, logger *slog.Logger) *AnthropicProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicProvider{name: name, model: model, msg: msg, logger: logger}
}

// Name implements domain.TokenStreamer.
func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) toParams(req domain.PromptRequest) sdk.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	return params
}

// StreamTokens implements domain.TokenStreamer. The SDK only surfaces HTTP
// failures on the first read, so the first event is pulled synchronously to
// keep "rejected at open" distinguishable from a mid-stream failure.
func (p *AnthropicProvider) StreamTokens(ctx context.Context, req domain.PromptRequest) (<-chan domain.StreamDelta, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", p.model),
		),
	)

	stream := p.msg.NewStreaming(ctx, p.toParams(req))
	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err == nil {
			// Empty stream: treat as an immediate, empty completion.
			ch := make(chan domain.StreamDelta)
			close(ch)
			tracer.Finish(span, nil)
			return ch, nil
		}
		err = mapAnthropicError(ctx, err)
		tracer.Finish(span, err)
		return nil, domain.NewSubSystemError("llm", "AnthropicProvider.StreamTokens", err, p.name)
	}

	upstream := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(upstream)
		defer stream.Close()

		for {
			d, stop := anthropicDelta(stream.Current())
			if d != nil && !send(ctx, upstream, *d) {
				return
			}
			if stop {
				return
			}
			if !stream.Next() {
				break
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			send(ctx, upstream, domain.StreamDelta{Err: mapAnthropicError(ctx, err)})
		}
	}()

	return traceStream(ctx, span, p.logger, p.name, upstream), nil
}

// anthropicDelta converts one SDK event. stop reports message_stop.
func anthropicDelta(event sdk.MessageStreamEventUnion) (d *domain.StreamDelta, stop bool) {
	switch ev := event.AsAny().(type) {
	case sdk.ContentBlockDeltaEvent:
		if text, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && text.Text != "" {
			return &domain.StreamDelta{Content: text.Text}, false
		}
	case sdk.MessageDeltaEvent:
		out := int(ev.Usage.OutputTokens)
		if out > 0 {
			return &domain.StreamDelta{Usage: &domain.Usage{CompletionTokens: out, TotalTokens: out}}, false
		}
	case sdk.MessageStopEvent:
		return nil, true
	}
	return nil, false
}

// mapAnthropicError folds SDK errors into the domain taxonomy.
func mapAnthropicError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return httpclient.StatusError(apiErr.StatusCode, []byte(apiErr.Error()))
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderError, err)
}

var _ domain.TokenStreamer = (*AnthropicProvider)(nil)
