// Package memory provides an in-memory crawled-record index.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/avlecchia/lectern/internal/reader"
)

// RecordStore keeps crawled records in memory, sorted by creation time.
type RecordStore struct {
	mu      sync.RWMutex
	records []reader.CrawledRecord
}

// NewRecordStore creates an empty in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{}
}

// InsertRecord appends a record, keeping created_at ascending order.
func (s *RecordStore) InsertRecord(_ context.Context, rec reader.CrawledRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	sort.SliceStable(s.records, func(i, j int) bool {
		return s.records[i].CreatedAt.Before(s.records[j].CreatedAt)
	})
	return nil
}

// ListByDay pages through records created inside the UTC day starting at day.
func (s *RecordStore) ListByDay(_ context.Context, day time.Time, offset, limit int) ([]reader.CrawledRecord, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var window []reader.CrawledRecord
	for _, rec := range s.records {
		if !rec.CreatedAt.Before(start) && rec.CreatedAt.Before(end) {
			window = append(window, rec)
		}
	}
	if offset >= len(window) {
		return nil, nil
	}
	window = window[offset:]
	if limit > 0 && len(window) > limit {
		window = window[:limit]
	}
	out := make([]reader.CrawledRecord, len(window))
	copy(out, window)
	return out, nil
}
