package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"spanlight/internal/domain"
	"spanlight/internal/infra/httpclient"
)

// maxResponseBody bounds a lookup API response.
const maxResponseBody = 2 << 20

// getJSON issues a GET and decodes a 200 response into out. Non-200 statuses
// map through httpclient.StatusError, so a 404 becomes domain.ErrNotFound.
func getJSON(ctx context.Context, client *http.Client, userAgent, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrUpstreamFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return httpclient.StatusError(resp.StatusCode, trim(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrProviderError, err)
	}
	return nil
}

func trim(b []byte) []byte {
	if len(b) > 256 {
		return b[:256]
	}
	return b
}
