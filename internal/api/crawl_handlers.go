package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/avlecchia/lectern/internal/reader"
)

// crawl serves one-shot and streaming page reads. The final snapshot is
// persisted as a crawled record so the nightly cruncher picks it up.
func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	opts, err := requestOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rawURL := param(r, "url")
	if rawURL == "" {
		writeError(w, reader.NewError(reader.KindInvalidArgument, "url is required"))
		return
	}

	results, err := s.scraper.Scrape(r.Context(), rawURL, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	if wantsSSE(r) {
		s.streamCrawl(w, r, rawURL, opts, results)
		return
	}

	var final reader.PageResult
	var got bool
	for res := range results {
		final = res
		got = true
	}
	if !got {
		writeError(w, reader.NewError(reader.KindUpstreamBrowserFailure, "page load failed"))
		return
	}

	page, err := s.renderPage(r.Context(), final, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	s.persistSnapshot(r.Context(), final)

	w.Header().Set("Content-Type", contentTypeFor(opts.Mode))
	if _, err := w.Write([]byte(page.String())); err != nil {
		s.logger.Debug("crawl response write failed", zap.Error(err))
	}
}

// streamCrawl emits each progressive PageResult as one SSE data frame.
func (s *Server) streamCrawl(w http.ResponseWriter, r *http.Request, rawURL string, opts reader.RequestOptions, results <-chan reader.PageResult) {
	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, reader.NewError(reader.KindInternal, "response does not support streaming"))
		return
	}
	var final *reader.PageResult
	for res := range results {
		page, err := s.renderPage(r.Context(), res, opts)
		if err != nil {
			_ = sse.Event("error", reader.ToEnvelope(err))
			return
		}
		if res.Final {
			f := res
			final = &f
		}
		payload, err := json.Marshal(map[string]any{
			"url":     page.URL,
			"title":   page.Title,
			"content": page.String(),
			"final":   res.Final,
		})
		if err != nil {
			continue
		}
		if err := sse.Data(string(payload)); err != nil {
			return // consumer disconnected
		}
	}
	if final != nil {
		s.persistSnapshot(r.Context(), *final)
	}
}

// renderPage applies the default→markdown retry the formatter itself does
// not perform.
func (s *Server) renderPage(ctx context.Context, res reader.PageResult, opts reader.RequestOptions) (reader.FormattedPage, error) {
	page, err := s.formatter.FormatResult(ctx, opts.Mode, res, opts)
	if err != nil {
		return reader.FormattedPage{}, err
	}
	if opts.Mode == reader.ModeDefault && page.Content == "" {
		return s.formatter.FormatResult(ctx, reader.ModeMarkdown, res, opts)
	}
	return page, nil
}

// persistSnapshot stores the snapshot blob, indexes the record and notifies
// subscribers. Failures are logged, never surfaced: the page was already
// served.
func (s *Server) persistSnapshot(ctx context.Context, res reader.PageResult) {
	if s.records == nil || s.blobs == nil {
		return
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("record id generation failed", zap.Error(err))
		return
	}
	blob, err := json.Marshal(res.Snapshot)
	if err != nil {
		s.logger.Warn("snapshot marshal failed", zap.Error(err))
		return
	}
	path := s.cfg.Storage.SnapshotPrefix + "/" + id
	if _, err := s.blobs.PutObject(ctx, path, "application/json", blob); err != nil {
		s.logger.Warn("snapshot upload failed", zap.String("record_id", id), zap.Error(err))
		return
	}
	rec := reader.CrawledRecord{
		ID:           id,
		CreatedAt:    s.clock.Now(),
		URL:          res.URL,
		SnapshotPath: path,
	}
	if err := s.records.InsertRecord(ctx, rec); err != nil {
		s.logger.Warn("record insert failed", zap.String("record_id", id), zap.Error(err))
		return
	}
	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, "page-crawled", rec); err != nil {
			s.logger.Warn("crawl notification failed", zap.String("record_id", id), zap.Error(err))
		}
	}
}

func contentTypeFor(mode reader.FormatMode) string {
	switch mode {
	case reader.ModeHTML:
		return "text/html; charset=utf-8"
	case reader.ModeScreenshot, reader.ModeText, reader.ModeDefault, reader.ModeMarkdown:
		return "text/plain; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}
