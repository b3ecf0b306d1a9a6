package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"spanlight/internal/domain"
	"spanlight/internal/infra/httpclient"
)

// maxErrorBody bounds how much of a failed response we keep for the error message.
const maxErrorBody = 4096

// doStreamRequest performs a JSON POST request for SSE streaming.
// It returns the open *http.Response (caller must close Body).
// Returns a domain error for non-200 responses.
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamFailure, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, httpclient.StatusError(httpResp.StatusCode, respBody)
	}

	return httpResp, nil
}

// send delivers d unless ctx is done first.
func send(ctx context.Context, ch chan<- domain.StreamDelta, d domain.StreamDelta) bool {
	select {
	case ch <- d:
		return true
	case <-ctx.Done():
		return false
	}
}
