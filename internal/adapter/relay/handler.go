package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"spanlight/internal/adapter/sse"
	"spanlight/internal/domain"
	"spanlight/internal/infra/tracer"
)

// Endpoint names, used as metric and log labels.
const (
	EndpointChat    = "chat"
	EndpointExplain = "explain"
)

// Validation messages returned with a 400.
const (
	msgChatRequired    = "message required"
	msgExplainRequired = "spanText and context required"
)

// Stream outcomes recorded by the Observer.
const (
	outcomeDone      = "done"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// errorBody is the JSON reply for a rejected request.
type errorBody struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code,omitempty"`
}

// Rejections. Each resolves to its own code through domain.ErrorCodeOf.
var (
	errChatRequired    = domain.NewSubSystemError("relay.chat", "Relay.Chat", domain.ErrInvalidInput, msgChatRequired)
	errExplainRequired = domain.NewSubSystemError("relay.explain", "Relay.Explain", domain.ErrInvalidInput, msgExplainRequired)
	errInvalidJSON     = domain.NewSubSystemError("relay", "Relay.Decode", domain.ErrInvalidInput, "invalid JSON body")
	errMethod          = domain.NewSubSystemError("relay", "Relay.Decode", domain.ErrMethodNotAllowed, "method not allowed")
	errTooLarge        = domain.NewSubSystemError("relay", "Relay.Decode", domain.ErrBodyTooLarge, "request body too large")
	errUnknownEndpoint = domain.NewSubSystemError("relay", "Relay.WebSocket", domain.ErrInvalidInput, "unknown endpoint")
)

// rejection renders a relay rejection for the wire.
func rejection(err *domain.DomainError) errorBody {
	return errorBody{Error: err.Detail, Code: domain.ErrorCodeOf(err)}
}

type chatRequest struct {
	Message string `json:"message"`
}

// Context is a pointer so an absent key can be told apart from an empty one.
type explainRequest struct {
	SpanText string  `json:"spanText"`
	Context  *string `json:"context"`
}

func (r chatRequest) valid() bool {
	return strings.TrimSpace(r.Message) != ""
}

func (r explainRequest) valid() bool {
	return strings.TrimSpace(r.SpanText) != "" && r.Context != nil
}

// frameSink receives the frames of one relayed stream. sse.Writer is one.
type frameSink interface {
	Token(text string) error
	Error(msg string) error
	Done() error
}

// ExplainPrompt builds the upstream prompt for a span and its context.
func ExplainPrompt(span, context string) string {
	return fmt.Sprintf("Explain this term: \"%s\"\n\nContext: %s", span, context)
}

func (s *Server) chatPrompt(r chatRequest) domain.PromptRequest {
	return domain.PromptRequest{
		System:      s.chat.SystemPrompt,
		Prompt:      r.Message,
		MaxTokens:   s.chat.MaxTokens,
		Temperature: s.chat.Temperature,
	}
}

func (s *Server) explainPrompt(r explainRequest) domain.PromptRequest {
	return domain.PromptRequest{
		System:      s.explain.SystemPrompt,
		Prompt:      ExplainPrompt(strings.TrimSpace(r.SpanText), *r.Context),
		MaxTokens:   s.explain.MaxTokens,
		Temperature: s.explain.Temperature,
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, EndpointChat, &req) {
		return
	}
	if !req.valid() {
		s.reject(w, EndpointChat, http.StatusBadRequest, errChatRequired)
		return
	}
	s.stream(w, r, EndpointChat, s.chatPrompt(req))
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if !s.decode(w, r, EndpointExplain, &req) {
		return
	}
	if !req.valid() {
		s.reject(w, EndpointExplain, http.StatusBadRequest, errExplainRequired)
		return
	}
	s.stream(w, r, EndpointExplain, s.explainPrompt(req))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSON(w, http.StatusMethodNotAllowed, rejection(errMethod))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode enforces POST and reads a JSON body into v. The method is checked
// before the body is touched. An empty body decodes as {}. It reports whether
// the handler should go on.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, endpoint string, v any) bool {
	if r.Method != http.MethodPost {
		s.reject(w, endpoint, http.StatusMethodNotAllowed, errMethod)
		return false
	}
	if s.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.reject(w, endpoint, http.StatusRequestEntityTooLarge, errTooLarge)
		return false
	}
	s.reject(w, endpoint, http.StatusBadRequest, errInvalidJSON)
	return false
}

func (s *Server) reject(w http.ResponseWriter, endpoint string, status int, err *domain.DomainError) {
	body := rejection(err)
	s.logger.Debug("relay request rejected", "endpoint", endpoint, "status", status, "reason", body.Error, "code", body.Code)
	s.obs.Request(endpoint, status)
	writeJSON(w, status, body)
}

// stream answers with an event stream. Headers are committed before the
// upstream call, so an open failure is reported as the error frame.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, endpoint string, req domain.PromptRequest) {
	sse.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	s.obs.Request(endpoint, http.StatusOK)

	s.relay(r.Context(), sse.NewWriter(w), endpoint, req)
}

// relay runs one upstream stream into sink and records its outcome.
func (s *Server) relay(ctx context.Context, sink frameSink, endpoint string, req domain.PromptRequest) {
	if s.cfg.StreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.StreamTimeout)
		defer cancel()
	}
	ctx, span := tracer.StartSpan(ctx, "relay.stream",
		trace.WithAttributes(
			tracer.StringAttr("relay.endpoint", endpoint),
			tracer.StringAttr("llm.provider", s.streamer.Name()),
		),
	)
	finish := s.obs.StreamStarted(endpoint)
	s.logger.Info("relay stream opened", "endpoint", endpoint, "provider", s.streamer.Name())

	tokens, outcome, err := s.pump(ctx, sink, endpoint, req)

	span.SetAttributes(tracer.IntAttr("relay.tokens", tokens))
	tracer.Finish(span, err)
	finish(outcome)

	switch outcome {
	case outcomeError:
		s.logger.Warn("relay stream failed", "endpoint", endpoint, "tokens", tokens, "error", err)
	case outcomeCancelled:
		s.logger.Debug("relay stream cancelled", "endpoint", endpoint, "tokens", tokens)
	default:
		s.logger.Debug("relay stream finished", "endpoint", endpoint, "tokens", tokens)
	}
}

// pump forwards upstream deltas one frame per non-empty token. Exactly one of
// Done or Error ends the sink unless the caller went away.
func (s *Server) pump(ctx context.Context, sink frameSink, endpoint string, req domain.PromptRequest) (int, string, error) {
	deltas, err := s.streamer.StreamTokens(ctx, req)
	if err != nil {
		return 0, s.fail(ctx, sink, endpoint, err), err
	}

	tokens := 0
	for d := range deltas {
		if d.Err != nil {
			return tokens, s.fail(ctx, sink, endpoint, d.Err), d.Err
		}
		if d.Content == "" {
			continue
		}
		if err := sink.Token(d.Content); err != nil {
			return tokens, outcomeCancelled, context.Canceled
		}
		tokens++
		s.obs.Frame(endpoint, domain.EventToken)
	}

	// A provider closes its channel quietly when ctx ends.
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.NewSubSystemError("relay", "Relay.Stream", domain.ErrTimeout, "stream exceeded its deadline")
		}
		return tokens, s.fail(ctx, sink, endpoint, err), err
	}

	if err := sink.Done(); err != nil {
		return tokens, outcomeCancelled, context.Canceled
	}
	s.obs.Frame(endpoint, domain.EventDone)
	return tokens, outcomeDone, nil
}

// fail writes the error frame unless the failure is the caller's own
// cancellation, in which case nobody is listening.
func (s *Server) fail(ctx context.Context, sink frameSink, endpoint string, err error) string {
	if domain.IsCancellation(err) && errors.Is(ctx.Err(), context.Canceled) {
		return outcomeCancelled
	}
	if werr := sink.Error(err.Error()); werr != nil {
		return outcomeCancelled
	}
	s.obs.Frame(endpoint, domain.EventError)
	return outcomeError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
