// Package api exposes the HTTP interface for the reader service.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avlecchia/lectern/internal/config"
	"github.com/avlecchia/lectern/internal/cruncher"
	"github.com/avlecchia/lectern/internal/format"
	"github.com/avlecchia/lectern/internal/interrogate"
	"github.com/avlecchia/lectern/internal/metrics"
	"github.com/avlecchia/lectern/internal/reader"
)

// Server wires HTTP handlers to the reader subsystems.
type Server struct {
	router    chi.Router
	scraper   reader.Scraper
	formatter *format.Formatter
	loop      *interrogate.Loop
	cruncher  *cruncher.Cruncher
	records   reader.RecordStore
	blobs     reader.BlobStore
	publisher reader.Publisher
	ids       reader.IDGenerator
	clock     reader.Clock
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	scraper reader.Scraper,
	formatter *format.Formatter,
	loop *interrogate.Loop,
	crunch *cruncher.Cruncher,
	records reader.RecordStore,
	blobs reader.BlobStore,
	publisher reader.Publisher,
	ids reader.IDGenerator,
	clock reader.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scraper:   scraper,
		formatter: formatter,
		loop:      loop,
		cruncher:  crunch,
		records:   records,
		blobs:     blobs,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/crawl", s.crawl)
	r.Post("/crawl", s.crawl)
	r.Get("/interrogate", s.interrogate)
	r.Post("/interrogate", s.interrogate)
	r.Get("/v1/chat/completions", s.chatWithReader)
	r.Post("/v1/chat/completions", s.chatWithReader)
	r.Get("/crunch", s.crunch)
	r.Post("/crunch", s.crunch)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// wantsSSE reports whether the client negotiated an event stream.
func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// param reads a request parameter from the query string or form body.
func param(r *http.Request, name string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			return r.PostFormValue(name)
		}
	}
	return ""
}

// requestOptions folds the option headers into a RequestOptions value.
func requestOptions(r *http.Request) (reader.RequestOptions, error) {
	opts := reader.RequestOptions{
		NoCache:          r.Header.Get("X-No-Cache") != "",
		ProxyURL:         r.Header.Get("X-Proxy-Url"),
		WithGeneratedAlt: r.Header.Get("X-With-Generated-Alt") != "",
		WithImageSummary: r.Header.Get("X-With-Images-Summary") != "",
		WithLinksSummary: r.Header.Get("X-With-Links-Summary") != "",
	}
	mode, ok := reader.ParseFormatMode(r.Header.Get("X-Respond-With"))
	if !ok {
		return opts, reader.NewError(reader.KindInvalidArgument,
			"X-Respond-With must be one of markdown, html, text, screenshot")
	}
	opts.Mode = mode
	if opts.ProxyURL != "" {
		if !hasAnyPrefix(opts.ProxyURL, "http://", "https://", "socks4://", "socks5://") {
			return opts, reader.NewError(reader.KindInvalidArgument,
				"X-Proxy-Url must be an http, https, socks4 or socks5 URL")
		}
	}
	opts.Cookies = append(opts.Cookies, r.Header.Values("X-Set-Cookie")...)
	return opts, nil
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Debug("response encode failed", zap.Error(err))
	}
}

func writeEnvelope(w http.ResponseWriter, status int, env reader.Envelope) {
	writeJSON(w, status, env)
}

// writeError converts any error into the standard envelope with the HTTP
// status derived from its kind.
func writeError(w http.ResponseWriter, err error) {
	env := reader.ToEnvelope(err)
	writeEnvelope(w, statusForKind(env.Code), env)
}

func statusForKind(kind reader.ErrorKind) int {
	switch kind {
	case reader.KindInvalidArgument:
		return http.StatusBadRequest
	case reader.KindUnauthenticated:
		return http.StatusUnauthorized
	case reader.KindInsufficientBalance:
		return http.StatusPaymentRequired
	case reader.KindRateLimited:
		return http.StatusTooManyRequests
	case reader.KindUpstreamBrowserFailure, reader.KindUpstreamModelFailure:
		return http.StatusBadGateway
	case reader.KindStorageFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
