// Package format converts page snapshots into caller-facing representations.
package format

import (
	"context"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/avlecchia/lectern/internal/reader"
)

// Formatter renders snapshots as markdown, html, text or screenshot URLs.
type Formatter struct {
	conv   *converter.Converter
	blobs  reader.BlobStore
	ids    reader.IDGenerator
	logger *zap.Logger
}

// New constructs a Formatter. blobs and ids are only required for
// screenshot mode; passing nil disables it.
func New(blobs reader.BlobStore, ids reader.IDGenerator, logger *zap.Logger) *Formatter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Formatter{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		blobs:  blobs,
		ids:    ids,
		logger: logger,
	}
}

// FormatResult renders one PageResult in the requested mode. In default mode
// an empty readability result yields an empty Content; the caller decides
// whether to retry with markdown mode.
func (f *Formatter) FormatResult(ctx context.Context, mode reader.FormatMode, res reader.PageResult, opts reader.RequestOptions) (reader.FormattedPage, error) {
	snap := res.Snapshot
	page := reader.FormattedPage{
		URL:   firstNonEmpty(snap.Href, res.URL),
		Title: snap.Title,
		HTML:  snap.HTML,
		Text:  snap.TextContent,
		Mode:  mode,
	}

	switch mode {
	case reader.ModeDefault:
		if snap.Content != "" {
			md, err := f.conv.ConvertString(snap.Content)
			if err != nil {
				return reader.FormattedPage{}, fmt.Errorf("convert article to markdown: %w", err)
			}
			page.Content = strings.TrimSpace(md)
		}
	case reader.ModeMarkdown:
		if snap.HTML != "" {
			md, err := f.conv.ConvertString(snap.HTML)
			if err != nil {
				return reader.FormattedPage{}, fmt.Errorf("convert page to markdown: %w", err)
			}
			page.Content = strings.TrimSpace(md)
		}
	case reader.ModeHTML, reader.ModeText:
		// Pass-through fields already populated.
	case reader.ModeScreenshot:
		url, err := f.uploadScreenshot(ctx, res)
		if err != nil {
			return reader.FormattedPage{}, err
		}
		page.ScreenshotURL = url
	default:
		return reader.FormattedPage{}, reader.NewError(reader.KindInvalidArgument, fmt.Sprintf("unknown format mode %q", mode))
	}

	if opts.WithLinksSummary || opts.WithImageSummary {
		f.appendSummaries(&page, snap, opts)
	}
	return page, nil
}

func (f *Formatter) uploadScreenshot(ctx context.Context, res reader.PageResult) (string, error) {
	if f.blobs == nil || f.ids == nil {
		return "", reader.NewError(reader.KindInvalidArgument, "screenshot mode is not configured")
	}
	if len(res.Screenshot) == 0 {
		return "", reader.NewError(reader.KindUpstreamBrowserFailure, "no screenshot captured")
	}
	id, err := f.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate screenshot id: %w", err)
	}
	uri, err := f.blobs.PutObject(ctx, "screenshots/"+id+".png", "image/png", res.Screenshot)
	if err != nil {
		return "", reader.WrapError(reader.KindStorageFailure, "upload screenshot", err)
	}
	return uri, nil
}

// appendSummaries adds link/image appendix sections built from the page DOM.
func (f *Formatter) appendSummaries(page *reader.FormattedPage, snap reader.Snapshot, opts reader.RequestOptions) {
	if snap.HTML == "" {
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		f.logger.Debug("summary parse failed", zap.Error(err))
		return
	}
	var sb strings.Builder
	if opts.WithLinksSummary {
		sb.WriteString("\n\nLinks/Buttons:\n")
		seen := map[string]bool{}
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			text := strings.TrimSpace(sel.Text())
			if href == "" || text == "" || seen[href] {
				return
			}
			seen[href] = true
			fmt.Fprintf(&sb, "- [%s](%s)\n", text, href)
		})
	}
	if opts.WithImageSummary {
		sb.WriteString("\n\nImages:\n")
		seen := map[string]bool{}
		doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
			src, _ := sel.Attr("src")
			if src == "" || seen[src] {
				return
			}
			seen[src] = true
			alt := sel.AttrOr("alt", "")
			fmt.Fprintf(&sb, "- ![%s](%s)\n", alt, src)
		})
	}
	page.Content += sb.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
