package lookup

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"spanlight/internal/domain"
)

// DictionaryClient looks words up in a dictionaryapi.dev-compatible service.
type DictionaryClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

// NewDictionaryClient creates a dictionary provider rooted at baseURL
// (e.g. https://api.dictionaryapi.dev/api/v2/entries/en).
func NewDictionaryClient(baseURL, userAgent string, client *http.Client, logger *slog.Logger) *DictionaryClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DictionaryClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    client,
		logger:    logger,
	}
}

// Define implements domain.DictionaryProvider. The caller passes the already
// normalized key; an empty result is reported as not found.
func (c *DictionaryClient) Define(ctx context.Context, word string) ([]domain.DictionaryEntry, error) {
	if word == "" {
		return nil, domain.NewSubSystemError("dictionary", "DictionaryClient.Define", domain.ErrInvalidInput, "empty word")
	}

	var entries []domain.DictionaryEntry
	if err := getJSON(ctx, c.client, c.userAgent, c.baseURL+"/"+url.PathEscape(word), &entries); err != nil {
		if !domain.IsCancellation(err) {
			c.logger.Debug("dictionary lookup failed", "word", word, "error", err)
		}
		return nil, domain.NewSubSystemError("dictionary", "DictionaryClient.Define", err, word)
	}
	if len(entries) == 0 {
		return nil, domain.NewSubSystemError("dictionary", "DictionaryClient.Define", domain.ErrNotFound, word)
	}
	return entries, nil
}

var _ domain.DictionaryProvider = (*DictionaryClient)(nil)
