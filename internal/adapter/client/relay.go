// Package client talks to the stream relay. It posts a JSON request and
// hands back the decoded event stream, bound to the caller's context so a
// superseded operation aborts its connection.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"spanlight/internal/adapter/sse"
	"spanlight/internal/domain"
	"spanlight/internal/infra/httpclient"
)

// maxErrorBody bounds how much of a non-stream reply is read.
const maxErrorBody = 4 << 10

// RelayClient implements domain.ChatStreamer and domain.AssistantSource
// against a relay's /api/chat and /api/explain endpoints.
type RelayClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewRelayClient creates a client for the relay at baseURL. A nil client
// gets a pooled one with no total timeout.
func NewRelayClient(baseURL string, client *http.Client, logger *slog.Logger) *RelayClient {
	if client == nil {
		client = httpclient.New(httpclient.Options{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// StreamChat implements domain.ChatStreamer.
func (c *RelayClient) StreamChat(ctx context.Context, message string) (<-chan domain.StreamEvent, error) {
	return c.stream(ctx, "RelayClient.StreamChat", "/api/chat", map[string]string{"message": message})
}

// Explain implements domain.AssistantSource.
func (c *RelayClient) Explain(ctx context.Context, span, surrounding string) (<-chan domain.StreamEvent, error) {
	return c.stream(ctx, "RelayClient.Explain", "/api/explain", map[string]string{
		"spanText": span,
		"context":  surrounding,
	})
}

// Health checks the relay's health endpoint.
func (c *RelayClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(ctx, "RelayClient.Health", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.NewDomainError("RelayClient.Health", replyError(resp), "")
	}
	return nil
}

func (c *RelayClient) stream(ctx context.Context, op, path string, body any) (<-chan domain.StreamEvent, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		err := replyError(resp)
		c.logger.Debug("relay rejected request", "path", path, "status", resp.StatusCode, "error", err)
		return nil, domain.WrapOp(op, err)
	}
	return sse.Decode(ctx, resp.Body), nil
}

func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return domain.NewDomainError(op, fmt.Errorf("%w: %v", domain.ErrUpstreamFailure, err), "")
}

// replyError turns a non-200 relay reply into an error carrying the relay's
// {"error", "code"} body. A 400 is the caller's fault and maps to
// domain.ErrInvalidInput, tagged so that domain.ErrorCodeOf returns the
// relay's code.
func replyError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error string           `json:"error"`
		Code  domain.ErrorCode `json:"code"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if resp.StatusCode == http.StatusBadRequest {
		return domain.NewSubSystemError(rejectionSubsystems[body.Code], "Relay", domain.ErrInvalidInput, msg)
	}
	return httpclient.StatusError(resp.StatusCode, []byte(msg))
}

// rejectionSubsystems maps relay validation codes back to the subsystem the
// relay tagged them with.
var rejectionSubsystems = map[domain.ErrorCode]string{
	domain.CodeChatInvalid:    "relay.chat",
	domain.CodeExplainInvalid: "relay.explain",
}

var (
	_ domain.ChatStreamer    = (*RelayClient)(nil)
	_ domain.AssistantSource = (*RelayClient)(nil)
)
