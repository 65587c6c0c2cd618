package format

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avlecchia/lectern/internal/id/uuid"
	"github.com/avlecchia/lectern/internal/reader"
	"github.com/avlecchia/lectern/internal/storage/memory"
)

func sampleResult() reader.PageResult {
	return reader.PageResult{
		URL: "https://example.com",
		Snapshot: reader.Snapshot{
			Href:        "https://example.com/",
			Title:       "Example Domain",
			Content:     "<article><h1>Example Domain</h1><p>This domain is for use in examples.</p></article>",
			TextContent: "Example Domain This domain is for use in examples.",
			HTML:        `<html><body><a href="/more">More information</a><img src="/i.png" alt="logo"><h1>Example Domain</h1></body></html>`,
		},
		Screenshot: []byte{0x89, 'P', 'N', 'G'},
	}
}

func TestFormatDefaultRendersArticleMarkdown(t *testing.T) {
	t.Parallel()

	f := New(nil, nil, nil)
	page, err := f.FormatResult(context.Background(), reader.ModeDefault, sampleResult(), reader.RequestOptions{})
	require.NoError(t, err)
	require.Contains(t, page.Content, "Example Domain")
	require.Contains(t, page.Content, "This domain is for use in examples.")
	require.Equal(t, "Example Domain", page.Title)
	require.Equal(t, "https://example.com/", page.URL)
}

func TestFormatDefaultEmptyContentDoesNotFallBack(t *testing.T) {
	t.Parallel()

	f := New(nil, nil, nil)
	res := sampleResult()
	res.Snapshot.Content = ""
	page, err := f.FormatResult(context.Background(), reader.ModeDefault, res, reader.RequestOptions{})
	require.NoError(t, err)
	require.Empty(t, page.Content)

	// Retrying with markdown mode succeeds iff html is non-empty.
	page, err = f.FormatResult(context.Background(), reader.ModeMarkdown, res, reader.RequestOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, page.Content)

	res.Snapshot.HTML = ""
	page, err = f.FormatResult(context.Background(), reader.ModeMarkdown, res, reader.RequestOptions{})
	require.NoError(t, err)
	require.Empty(t, page.Content)
}

func TestFormatHTMLAndTextPassThrough(t *testing.T) {
	t.Parallel()

	f := New(nil, nil, nil)
	res := sampleResult()

	page, err := f.FormatResult(context.Background(), reader.ModeHTML, res, reader.RequestOptions{})
	require.NoError(t, err)
	require.Equal(t, res.Snapshot.HTML, page.String())

	page, err = f.FormatResult(context.Background(), reader.ModeText, res, reader.RequestOptions{})
	require.NoError(t, err)
	require.Equal(t, res.Snapshot.TextContent, page.String())
}

func TestFormatScreenshotUploadsBytes(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	f := New(blobs, uuid.New(), nil)

	page, err := f.FormatResult(context.Background(), reader.ModeScreenshot, sampleResult(), reader.RequestOptions{})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(page.ScreenshotURL, "mem://screenshots/"))
	require.Equal(t, 1, blobs.Len())
	require.Equal(t, page.ScreenshotURL, page.String())
}

func TestFormatScreenshotWithoutBytesFails(t *testing.T) {
	t.Parallel()

	f := New(memory.NewBlobStore(), uuid.New(), nil)
	res := sampleResult()
	res.Screenshot = nil
	_, err := f.FormatResult(context.Background(), reader.ModeScreenshot, res, reader.RequestOptions{})
	require.Error(t, err)
	require.Equal(t, reader.KindUpstreamBrowserFailure, reader.KindOf(err))
}

func TestSummariesAppended(t *testing.T) {
	t.Parallel()

	f := New(nil, nil, nil)
	page, err := f.FormatResult(context.Background(), reader.ModeDefault, sampleResult(), reader.RequestOptions{
		WithLinksSummary: true,
		WithImageSummary: true,
	})
	require.NoError(t, err)
	require.Contains(t, page.Content, "Links/Buttons:")
	require.Contains(t, page.Content, "[More information](/more)")
	require.Contains(t, page.Content, "Images:")
	require.Contains(t, page.Content, "![logo](/i.png)")
}
