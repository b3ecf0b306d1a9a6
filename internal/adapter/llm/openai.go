package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
	"spanlight/internal/infra/httpclient"
	"spanlight/internal/infra/tracer"
)

// OpenAIProvider streams completions from any OpenAI-compatible
// /chat/completions endpoint. xAI is the default deployment.
type OpenAIProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &OpenAIProvider{
		name:    cfg.Name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  httpclient.ForProvider(cfg),
		logger:  logger,
	}
}

// Name implements domain.TokenStreamer.
func (p *OpenAIProvider) Name() string { return p.name }

type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	Stream        bool                 `json:"stream"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiStreamChunk struct {
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
	Error   *openaiError         `json:"error,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content string `json:"content,omitempty"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (p *OpenAIProvider) toRequest(req domain.PromptRequest) openaiRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	msgs := make([]openaiMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openaiMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, openaiMessage{Role: "user", Content: req.Prompt})

	out := openaiRequest{
		Model:         model,
		Messages:      msgs,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &openaiStreamOptions{IncludeUsage: true},
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	return out
}

// StreamTokens implements domain.TokenStreamer. Errors returned directly mean
// the upstream never accepted the request; later failures arrive as a delta
// with Err set.
func (p *OpenAIProvider) StreamTokens(ctx context.Context, req domain.PromptRequest) (<-chan domain.StreamDelta, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", p.model),
		),
	)

	body, err := json.Marshal(p.toRequest(req))
	if err != nil {
		tracer.Finish(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	httpResp, err := doStreamRequest(ctx, p.client, p.baseURL+"/chat/completions", body, headers)
	if err != nil {
		tracer.Finish(span, err)
		return nil, domain.NewSubSystemError("llm", "OpenAIProvider.StreamTokens", err, p.name)
	}

	upstream := parseSSEStream(ctx, httpResp.Body, parseOpenAIChunk)
	return traceStream(ctx, span, p.logger, p.name, upstream), nil
}

// parseOpenAIChunk converts one data payload into a delta. Chunks with no
// content and no usage return nil and are skipped.
func parseOpenAIChunk(data []byte) (*domain.StreamDelta, error) {
	var chunk openaiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, err
	}
	if chunk.Error != nil {
		msg := chunk.Error.Message
		if msg == "" {
			msg = chunk.Error.Type
		}
		return &domain.StreamDelta{Err: fmt.Errorf("%w: %s", domain.ErrProviderError, msg)}, nil
	}

	var d domain.StreamDelta
	if len(chunk.Choices) > 0 {
		d.Content = chunk.Choices[0].Delta.Content
	}
	if chunk.Usage != nil {
		d.Usage = &domain.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	if d.Content == "" && d.Usage == nil {
		return nil, nil
	}
	return &d, nil
}

// traceStream forwards upstream to a new channel, ending span when the stream
// does and logging the outcome.
func traceStream(ctx context.Context, span trace.Span, logger *slog.Logger, provider string, upstream <-chan domain.StreamDelta) <-chan domain.StreamDelta {
	out := make(chan domain.StreamDelta, cap(upstream))
	go func() {
		defer close(out)
		var (
			streamErr error
			usage     *domain.Usage
			chunks    int
		)
		defer func() {
			if streamErr == nil && ctx.Err() != nil {
				streamErr = ctx.Err()
			}
			span.SetAttributes(tracer.IntAttr("llm.chunks", chunks))
			if usage != nil {
				span.SetAttributes(
					tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
					tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
				)
			}
			tracer.Finish(span, streamErr)
			if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
				logger.Warn("llm stream failed", "provider", provider, "error", streamErr)
			} else {
				logger.Debug("llm stream ended", "provider", provider, "chunks", chunks)
			}
		}()

		for d := range upstream {
			if d.Usage != nil {
				usage = d.Usage
			}
			if d.Err != nil {
				streamErr = d.Err
			}
			if d.Content != "" {
				chunks++
			}
			if !send(ctx, out, d) {
				return
			}
		}
	}()
	return out
}

var _ domain.TokenStreamer = (*OpenAIProvider)(nil)
