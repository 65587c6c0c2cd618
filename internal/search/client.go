// Package search implements the web searcher behind the searchWeb tool.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/avlecchia/lectern/internal/reader"
)

// Config captures the search backend connection parameters.
type Config struct {
	Endpoint string
	APIKey   string
	Count    int
}

// Client queries a Brave-compatible web search API.
type Client struct {
	endpoint   string
	apiKey     string
	count      int
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a search client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("search.endpoint is required")
	}
	if cfg.Count <= 0 {
		cfg.Count = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		count:      cfg.Count,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}, nil
}

// Disabled is the searcher used when no backend is configured. The tool
// stays registered; every query reports the missing configuration back to
// the model.
type Disabled struct{}

// Search always fails with a configuration error.
func (Disabled) Search(context.Context, string) ([]reader.SearchResult, error) {
	return nil, fmt.Errorf("web search is not configured")
}

type searchResponse struct {
	Web struct {
		Results []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs one query and returns the top results.
func (c *Client) Search(ctx context.Context, query string) ([]reader.SearchResult, error) {
	if query == "" {
		return nil, reader.NewError(reader.KindInvalidArgument, "search query is empty")
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(c.count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Subscription-Token", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, reader.NewError(reader.KindRateLimited, "search backend rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request failed: %s", resp.Status)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]reader.SearchResult, 0, len(parsed.Web.Results))
	for _, hit := range parsed.Web.Results {
		if hit.URL == "" {
			continue
		}
		results = append(results, reader.SearchResult{
			URL:         hit.URL,
			Title:       hit.Title,
			Description: hit.Description,
		})
	}
	c.logger.Debug("search completed", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}
