package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avlecchia/lectern/internal/reader"
)

// PageFormatter renders a final PageResult for tool output.
type PageFormatter interface {
	FormatResult(ctx context.Context, mode reader.FormatMode, res reader.PageResult, opts reader.RequestOptions) (reader.FormattedPage, error)
}

// RegisterBuiltins wires the browse and searchWeb tools into the registry.
func RegisterBuiltins(reg *Registry, scraper reader.Scraper, formatter PageFormatter, searcher reader.Searcher) error {
	if err := reg.Register(Tool{
		Name:        "browse",
		Description: "Fetch a web page through a headless browser and return its readable content as markdown.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The http or https URL to read.",
				},
			},
			"required": []string{"url"},
		},
		Handler: browseHandler(scraper, formatter),
	}); err != nil {
		return err
	}
	return reg.Register(Tool{
		Name:        "searchWeb",
		Description: "Search the web and return a list of result URLs with titles and descriptions.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "The search query.",
				},
			},
			"required": []string{"text"},
		},
		Handler: searchHandler(searcher),
	})
}

func browseHandler(scraper reader.Scraper, formatter PageFormatter) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		rawURL, _ := args["url"].(string)
		if rawURL == "" {
			return "", fmt.Errorf("browse requires a url argument")
		}
		results, err := scraper.Scrape(ctx, rawURL, reader.RequestOptions{Mode: reader.ModeDefault})
		if err != nil {
			return "", fmt.Errorf("scrape %s: %w", rawURL, err)
		}
		var final reader.PageResult
		var got bool
		for res := range results {
			final = res
			got = true
		}
		if !got {
			return "", fmt.Errorf("scrape %s yielded no result", rawURL)
		}
		page, err := formatter.FormatResult(ctx, reader.ModeDefault, final, reader.RequestOptions{})
		if err != nil {
			return "", err
		}
		if page.Content == "" {
			page, err = formatter.FormatResult(ctx, reader.ModeMarkdown, final, reader.RequestOptions{})
			if err != nil {
				return "", err
			}
		}
		return page.String(), nil
	}
}

func searchHandler(searcher reader.Searcher) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["text"].(string)
		if query == "" {
			return "", fmt.Errorf("searchWeb requires a text argument")
		}
		results, err := searcher.Search(ctx, query)
		if err != nil {
			return "", fmt.Errorf("search %q: %w", query, err)
		}
		payload, err := json.Marshal(results)
		if err != nil {
			return "", fmt.Errorf("marshal search results: %w", err)
		}
		return string(payload), nil
	}
}
