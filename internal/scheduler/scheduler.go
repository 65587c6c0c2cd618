// Package scheduler triggers the nightly crunch at its fixed UTC time.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job is the unit of scheduled work; satisfied by the cruncher's Run bound
// to a discard emitter.
type Job func(ctx context.Context) error

// Config controls trigger time and retry behavior.
type Config struct {
	Hour       int           // UTC hour of day
	Minute     int           // UTC minute
	RunTimeout time.Duration // per-invocation budget
	Retries    int
	Backoff    time.Duration
}

// Scheduler runs one Job daily at the configured UTC time.
type Scheduler struct {
	cfg    Config
	job    Job
	logger *zap.Logger
	nowFn  func() time.Time
}

// New creates a Scheduler. Hour and Minute are used as given; unset fields
// default to a 30 minute budget and three retries with a 60 second minimum
// backoff.
func New(cfg Config, job Job, logger *zap.Logger) *Scheduler {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:    cfg,
		job:    job,
		logger: logger,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// NextRun returns the next trigger instant strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.Hour, s.cfg.Minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run blocks, firing the job at each trigger until the context finishes.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.NextRun(s.nowFn())
		s.logger.Info("next crunch scheduled", zap.Time("at", next))

		timer := time.NewTimer(next.Sub(s.nowFn()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.fire(ctx)
	}
}

// fire runs the job once, retrying on failure with backoff.
func (s *Scheduler) fire(ctx context.Context) {
	for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
		err := s.job(runCtx)
		cancel()
		if err == nil {
			return
		}
		s.logger.Error("scheduled crunch failed",
			zap.Int("attempt", attempt), zap.Error(err))
		if attempt == s.cfg.Retries {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.Backoff * time.Duration(attempt)):
		}
	}
}
