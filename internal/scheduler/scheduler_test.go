package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextRunSameDay(t *testing.T) {
	t.Parallel()

	s := New(Config{Hour: 2}, nil, nil)
	now := time.Date(2026, 8, 5, 1, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 8, 5, 2, 0, 0, 0, time.UTC), s.NextRun(now))
}

func TestNextRunRollsToTomorrow(t *testing.T) {
	t.Parallel()

	s := New(Config{Hour: 2}, nil, nil)

	now := time.Date(2026, 8, 5, 2, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 8, 6, 2, 0, 0, 0, time.UTC), s.NextRun(now))

	now = time.Date(2026, 8, 5, 14, 45, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 8, 6, 2, 0, 0, 0, time.UTC), s.NextRun(now))
}

func TestFireRetriesWithBackoff(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	job := func(context.Context) error {
		if attempts.Add(1) < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	}
	s := New(Config{Hour: 2, Retries: 3, Backoff: time.Millisecond}, job, nil)
	s.fire(context.Background())
	require.Equal(t, int32(3), attempts.Load())
}

func TestFireGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	job := func(context.Context) error {
		attempts.Add(1)
		return fmt.Errorf("permanent")
	}
	s := New(Config{Hour: 2, Retries: 3, Backoff: time.Millisecond}, job, nil)
	s.fire(context.Background())
	require.Equal(t, int32(3), attempts.Load())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	s := New(Config{Hour: 2}, func(context.Context) error { return nil }, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
