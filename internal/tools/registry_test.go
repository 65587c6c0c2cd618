package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avlecchia/lectern/internal/reader"
)

func noopTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: name + " does a thing",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", nil
		},
	}
}

func TestRegisterRejectsDuplicatesAndBlanks(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(noopTool("browse")))
	require.Error(t, reg.Register(noopTool("browse")))
	require.Error(t, reg.Register(Tool{Name: ""}))
	require.Error(t, reg.Register(Tool{Name: "nohandler"}))
}

func TestDescriptorsKeepRegistrationOrder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(noopTool("browse")))
	require.NoError(t, reg.Register(noopTool("searchWeb")))

	descs := reg.Descriptors()
	require.Len(t, descs, 2)
	require.Equal(t, "browse", descs[0].Name)
	require.Equal(t, "searchWeb", descs[1].Name)
}

func TestSystemPromptDeterministic(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(noopTool("browse")))
	require.NoError(t, reg.Register(noopTool("searchWeb")))

	first, err := reg.SystemPrompt("")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := reg.SystemPrompt("")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	require.Contains(t, first, `"intention": "USE_TOOLS"`)
	require.NotContains(t, first, "You MUST invoke")
}

func TestSystemPromptPinnedTool(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(noopTool("browse")))

	prompt, err := reg.SystemPrompt("browse")
	require.NoError(t, err)
	require.Contains(t, prompt, `You MUST invoke the tool "browse"`)

	_, err = reg.SystemPrompt("unknown")
	require.Error(t, err)
}

type stubScraper struct {
	result reader.PageResult
	err    error
}

func (s *stubScraper) Scrape(_ context.Context, url string, _ reader.RequestOptions) (<-chan reader.PageResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan reader.PageResult, 1)
	res := s.result
	res.URL = url
	ch <- res
	close(ch)
	return ch, nil
}

type stubFormatter struct{}

func (stubFormatter) FormatResult(_ context.Context, mode reader.FormatMode, res reader.PageResult, _ reader.RequestOptions) (reader.FormattedPage, error) {
	content := res.Snapshot.Content
	if mode == reader.ModeMarkdown {
		content = res.Snapshot.HTML
	}
	return reader.FormattedPage{URL: res.URL, Title: res.Snapshot.Title, Content: content, Mode: mode}, nil
}

type stubSearcher struct {
	results []reader.SearchResult
	err     error
}

func (s *stubSearcher) Search(context.Context, string) ([]reader.SearchResult, error) {
	return s.results, s.err
}

func TestBrowseToolReturnsMarkdown(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	scraper := &stubScraper{result: reader.PageResult{
		Snapshot: reader.Snapshot{Title: "A", Content: "article body"},
	}}
	require.NoError(t, RegisterBuiltins(reg, scraper, stubFormatter{}, &stubSearcher{}))

	browse, ok := reg.Get("browse")
	require.True(t, ok)
	out, err := browse.Handler(context.Background(), map[string]any{"url": "https://a.test"})
	require.NoError(t, err)
	require.Contains(t, out, "article body")

	_, err = browse.Handler(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestBrowseToolFallsBackToMarkdownMode(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	scraper := &stubScraper{result: reader.PageResult{
		Snapshot: reader.Snapshot{Title: "A", Content: "", HTML: "<p>full page</p>"},
	}}
	require.NoError(t, RegisterBuiltins(reg, scraper, stubFormatter{}, &stubSearcher{}))

	browse, _ := reg.Get("browse")
	out, err := browse.Handler(context.Background(), map[string]any{"url": "https://a.test"})
	require.NoError(t, err)
	require.Contains(t, out, "full page")
}

func TestSearchWebTool(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	searcher := &stubSearcher{results: []reader.SearchResult{
		{URL: "https://a.test", Title: "A", Description: "first"},
	}}
	require.NoError(t, RegisterBuiltins(reg, &stubScraper{}, stubFormatter{}, searcher))

	search, ok := reg.Get("searchWeb")
	require.True(t, ok)
	out, err := search.Handler(context.Background(), map[string]any{"text": "query"})
	require.NoError(t, err)
	require.JSONEq(t, `[{"url":"https://a.test","title":"A","description":"first"}]`, out)

	searcher.err = fmt.Errorf("backend down")
	_, err = search.Handler(context.Background(), map[string]any{"text": "query"})
	require.Error(t, err)
}
