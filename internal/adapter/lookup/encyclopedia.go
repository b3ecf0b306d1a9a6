package lookup

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"spanlight/internal/domain"
)

// wikiPageBase builds a page URL when the summary carries none.
const wikiPageBase = "https://en.wikipedia.org/wiki/"

// EncyclopediaClient fetches page summaries from a Wikipedia REST endpoint.
type EncyclopediaClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

// NewEncyclopediaClient creates an encyclopedia provider rooted at baseURL
// (e.g. https://en.wikipedia.org/api/rest_v1).
func NewEncyclopediaClient(baseURL, userAgent string, client *http.Client, logger *slog.Logger) *EncyclopediaClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &EncyclopediaClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    client,
		logger:    logger,
	}
}

type wikiSummary struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Extract   string `json:"extract"`
	Thumbnail *struct {
		Source string `json:"source"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"thumbnail"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Summarize implements domain.EncyclopediaProvider. The phrase is used as a
// literal title; a summary without an extract counts as not found.
func (c *EncyclopediaClient) Summarize(ctx context.Context, phrase string) (*domain.EncyclopediaSummary, error) {
	if phrase == "" {
		return nil, domain.NewSubSystemError("encyclopedia", "EncyclopediaClient.Summarize", domain.ErrInvalidInput, "empty phrase")
	}
	title := url.PathEscape(strings.ReplaceAll(phrase, " ", "_"))

	var ws wikiSummary
	if err := getJSON(ctx, c.client, c.userAgent, c.baseURL+"/page/summary/"+title, &ws); err != nil {
		if !domain.IsCancellation(err) {
			c.logger.Debug("encyclopedia lookup failed", "phrase", phrase, "error", err)
		}
		return nil, domain.NewSubSystemError("encyclopedia", "EncyclopediaClient.Summarize", err, phrase)
	}
	if strings.TrimSpace(ws.Extract) == "" {
		return nil, domain.NewSubSystemError("encyclopedia", "EncyclopediaClient.Summarize", domain.ErrNotFound, phrase)
	}

	out := &domain.EncyclopediaSummary{
		Title:   ws.Title,
		Extract: ws.Extract,
		PageURL: ws.ContentURLs.Desktop.Page,
	}
	if out.Title == "" {
		out.Title = phrase
	}
	if out.PageURL == "" {
		out.PageURL = wikiPageBase + title
	}
	if ws.Thumbnail != nil && ws.Thumbnail.Source != "" {
		out.Thumbnail = &domain.Thumbnail{
			Source: ws.Thumbnail.Source,
			Width:  ws.Thumbnail.Width,
			Height: ws.Thumbnail.Height,
		}
	}
	return out, nil
}

var _ domain.EncyclopediaProvider = (*EncyclopediaClient)(nil)
