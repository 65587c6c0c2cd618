package reader

import (
	"context"
	"time"
)

// BlobStore reads and writes artifacts in object storage.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// RecordStore queries the crawled-record index by day partition.
type RecordStore interface {
	InsertRecord(ctx context.Context, rec CrawledRecord) error
	ListByDay(ctx context.Context, day time.Time, offset, limit int) ([]CrawledRecord, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Scraper drives one page load and streams progressive results. The returned
// channel is unbuffered; the producer suspends until the consumer receives.
type Scraper interface {
	Scrape(ctx context.Context, url string, opts RequestOptions) (<-chan PageResult, error)
}

// Searcher answers web search queries for the searchWeb tool.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// Hasher computes digests for snapshot deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record and tool-call IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
