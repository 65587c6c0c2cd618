package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/avlecchia/lectern/internal/progress"
)

// PrometheusSink exports reader progress metrics via Prometheus. It owns the
// collectors for scrapes, interrogation turns and crunch runs.
type PrometheusSink struct {
	scrapesStarted prometheus.Counter
	scrapesDone    *prometheus.CounterVec
	snapshots      prometheus.Counter
	scrapeDuration prometheus.Histogram

	turnsStarted prometheus.Counter
	toolCalls    *prometheus.CounterVec
	turnsDone    prometheus.Counter

	crunchFiles prometheus.Counter
	crunchRuns  *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		scrapesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reader_scrapes_started_total",
			Help: "Total page scrapes that have started.",
		}),
		scrapesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reader_scrapes_completed_total",
			Help: "Total scrapes completed partitioned by result.",
		}, []string{"result"}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reader_snapshots_total",
			Help: "Progressive snapshots yielded across all scrapes.",
		}),
		scrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reader_scrape_duration_seconds",
			Help:    "Wall time per completed scrape.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		turnsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reader_llm_turns_started_total",
			Help: "Interrogator turns opened against the model.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reader_tool_calls_total",
			Help: "Tool invocations dispatched by the interrogator loop.",
		}, []string{"tool"}),
		turnsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reader_llm_turns_completed_total",
			Help: "Interrogator turns that ran to completion.",
		}),
		crunchFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reader_crunch_files_total",
			Help: "Archive files uploaded by the nightly cruncher.",
		}),
		crunchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reader_crunch_runs_total",
			Help: "Cruncher runs partitioned by result.",
		}, []string{"result"}),
	}
	for _, collector := range []prometheus.Collector{
		s.scrapesStarted,
		s.scrapesDone,
		s.snapshots,
		s.scrapeDuration,
		s.turnsStarted,
		s.toolCalls,
		s.turnsDone,
		s.crunchFiles,
		s.crunchRuns,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageScrapeStart:
		s.scrapesStarted.Inc()
	case progress.StageSnapshot:
		s.snapshots.Inc()
	case progress.StageScrapeDone:
		s.scrapesDone.WithLabelValues("ok").Inc()
		if evt.DurationMs > 0 {
			s.scrapeDuration.Observe(float64(evt.DurationMs) / 1000)
		}
	case progress.StageScrapeError:
		s.scrapesDone.WithLabelValues("error").Inc()
	case progress.StageTurnStart:
		s.turnsStarted.Inc()
	case progress.StageToolCall:
		s.toolCalls.WithLabelValues(evt.Tool).Inc()
	case progress.StageTurnDone:
		s.turnsDone.Inc()
	case progress.StageCrunchFile:
		s.crunchFiles.Inc()
	case progress.StageCrunchDone:
		result := "ok"
		if evt.Err != "" {
			result = "error"
		}
		s.crunchRuns.WithLabelValues(result).Inc()
	}
}

// Close implements the Sink interface; collectors stay registered.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
