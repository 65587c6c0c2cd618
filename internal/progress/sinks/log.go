// Package sinks contains Sink implementations for the progress hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/avlecchia/lectern/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a metrics backend is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("stage", string(evt.Stage)),
			zap.Time("at", evt.At),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Model != "" {
			fields = append(fields, zap.String("model", evt.Model))
		}
		if evt.Tool != "" {
			fields = append(fields, zap.String("tool", evt.Tool))
		}
		if evt.File != "" {
			fields = append(fields, zap.String("file", evt.File))
		}
		if evt.DurationMs > 0 {
			fields = append(fields, zap.Int64("duration_ms", evt.DurationMs))
		}
		if evt.Err != "" {
			fields = append(fields, zap.String("error", evt.Err))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
