package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/avlecchia/lectern/internal/format"
	"github.com/avlecchia/lectern/internal/interrogate"
	"github.com/avlecchia/lectern/internal/llm"
	"github.com/avlecchia/lectern/internal/reader"
)

// maxQuestionTokens bounds the interrogate question length.
const maxQuestionTokens = 2048

const interrogateSystemPrompt = "You are a helpful assistant. Answer the user's question using ONLY the " +
	"following web page content. If the content does not answer the question, say so.\n\n"

// interrogate crawls one page and asks the model a question about it.
func (s *Server) interrogate(w http.ResponseWriter, r *http.Request) {
	rawURL := param(r, "url")
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		writeError(w, reader.NewError(reader.KindInvalidArgument, "url must be an http or https URL"))
		return
	}
	question := strings.TrimSpace(param(r, "question"))
	if question == "" {
		writeError(w, reader.NewError(reader.KindInvalidArgument, "question is required"))
		return
	}
	if llm.EstimateTokens(question) > maxQuestionTokens {
		writeError(w, reader.NewError(reader.KindInvalidArgument,
			fmt.Sprintf("question exceeds %d tokens", maxQuestionTokens)))
		return
	}
	model := param(r, "model")
	if model == "" {
		model = s.cfg.LLM.DefaultModel
	}

	opts, err := requestOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := s.crawlOnce(r.Context(), rawURL, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	content := page.String()
	if opts.WithGeneratedAlt || param(r, "expandImages") != "" {
		// Image expansion produces a heterogeneous prompt sequence; this
		// transport carries text, so only the textual parts survive.
		content = textOnly(format.ExpandMarkdown(content, nil))
	}

	events, err := s.loop.Chat(r.Context(), interrogate.ChatRequest{
		Model:              model,
		System:             interrogateSystemPrompt + content,
		Messages:           []reader.LLMMessage{{Role: reader.RoleUser, Content: question}},
		MaxAdditionalTurns: s.cfg.LLM.MaxTurns,
		DisableTools:       true,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if wantsSSE(r) {
		s.streamLoopEvents(w, events)
		return
	}

	var answer strings.Builder
	for evt := range events {
		switch evt.Kind {
		case interrogate.EventChunk:
			answer.WriteString(evt.Text)
		case interrogate.EventError:
			writeError(w, evt.Err)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := fmt.Fprintf(w, "%s\n", strings.TrimRight(answer.String(), "\n")); err != nil {
		s.logger.Debug("interrogate response write failed", zap.Error(err))
	}
}

// crawlOnce consumes a scrape to its final result and renders it, retrying
// with full-page markdown when readability came up empty.
func (s *Server) crawlOnce(ctx context.Context, rawURL string, opts reader.RequestOptions) (reader.FormattedPage, error) {
	results, err := s.scraper.Scrape(ctx, rawURL, opts)
	if err != nil {
		return reader.FormattedPage{}, err
	}
	var final reader.PageResult
	var got bool
	for res := range results {
		final = res
		got = true
	}
	if !got {
		return reader.FormattedPage{}, reader.NewError(reader.KindUpstreamBrowserFailure, "page load failed")
	}
	s.persistSnapshot(ctx, final)
	return s.renderPage(ctx, final, opts)
}

// streamLoopEvents relays interrogator events onto an SSE stream using the
// loop's event vocabulary.
func (s *Server) streamLoopEvents(w http.ResponseWriter, events <-chan interrogate.Event) {
	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, reader.NewError(reader.KindInternal, "response does not support streaming"))
		return
	}
	for evt := range events {
		var err error
		switch evt.Kind {
		case interrogate.EventChunk:
			err = sse.Event("chunk", map[string]string{"text": evt.Text})
		case interrogate.EventN1, interrogate.EventN2:
			err = sse.Event(string(evt.Kind), map[string]string{"prefix": evt.Text})
		case interrogate.EventSnapshot:
			err = sse.Event("snapshot", evt.Value)
		case interrogate.EventStructured:
			err = sse.Event("structured", evt.Value)
		case interrogate.EventCall:
			err = sse.Event("call", evt.Call)
		case interrogate.EventReturn:
			err = sse.Event("return", map[string]string{"id": evt.CallID, "result": evt.Result})
		case interrogate.EventInjectHistory:
			err = sse.Event("injectHistory", evt.Message)
		case interrogate.EventHistory:
			err = sse.Event("history", evt.History)
		case interrogate.EventError:
			err = sse.Event("error", reader.ToEnvelope(evt.Err))
		}
		if err != nil {
			return // consumer disconnected; the loop drains via context
		}
	}
}

// textOnly reduces an expanded prompt sequence back to its textual parts.
func textOnly(parts []any) string {
	var sb strings.Builder
	for _, part := range parts {
		if s, ok := part.(string); ok {
			sb.WriteString(s)
		}
	}
	return sb.String()
}
