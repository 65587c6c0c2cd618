package api

import (
	"context"
	"net/http"
	"time"

	"github.com/avlecchia/lectern/internal/reader"
)

// httpCrunchTimeout is the budget for an HTTP-invoked crunch; the scheduled
// nightly run uses a tighter one.
const httpCrunchTimeout = 60 * time.Minute

// crunch triggers the archive batch and streams produced file names as SSE.
func (s *Server) crunch(w http.ResponseWriter, r *http.Request) {
	if s.cruncher == nil {
		writeError(w, reader.NewError(reader.KindInternal, "cruncher is not configured"))
		return
	}
	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, reader.NewError(reader.KindInternal, "response does not support streaming"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), httpCrunchTimeout)
	defer cancel()

	if err := sse.Data("crunch started"); err != nil {
		return
	}
	err := s.cruncher.Run(ctx, func(filename string) {
		_ = sse.Data(filename)
	})
	if err != nil {
		_ = sse.Event("error", reader.ToEnvelope(err))
		return
	}
	_ = sse.Data("crunch complete")
}
