package cruncher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avlecchia/lectern/internal/format"
	"github.com/avlecchia/lectern/internal/reader"
	recmemory "github.com/avlecchia/lectern/internal/records/memory"
	"github.com/avlecchia/lectern/internal/storage/memory"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

// countingBlobs wraps the memory blob store to count uploads.
type countingBlobs struct {
	*memory.BlobStore
	puts atomic.Int64
}

func (c *countingBlobs) PutObject(ctx context.Context, path, contentType string, data []byte) (string, error) {
	c.puts.Add(1)
	return c.BlobStore.PutObject(ctx, path, contentType, data)
}

func seedDay(t *testing.T, records *recmemory.RecordStore, blobs *memory.BlobStore, day time.Time, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("rec-%s-%05d", day.Format("20060102"), i)
		snap := reader.Snapshot{
			Href:        fmt.Sprintf("https://site.test/%d", i),
			Title:       fmt.Sprintf("Page %d", i),
			Content:     fmt.Sprintf("<p>body %d</p>", i),
			TextContent: fmt.Sprintf("body %d", i),
			HTML:        fmt.Sprintf("<html><body><p>body %d</p></body></html>", i),
		}
		blob, err := json.Marshal(snap)
		require.NoError(t, err)
		path := "snapshots/" + id
		_, err = blobs.PutObject(ctx, path, "application/json", blob)
		require.NoError(t, err)
		require.NoError(t, records.InsertRecord(ctx, reader.CrawledRecord{
			ID:           id,
			CreatedAt:    day.Add(time.Duration(i) * time.Second),
			URL:          snap.Href,
			SnapshotPath: path,
		}))
	}
}

func newTestCruncher(blobs reader.BlobStore, records reader.RecordStore, now time.Time, batch int) *Cruncher {
	return New(Config{
		Prefix:      "crawled",
		Rev:         2,
		TMinusDays:  3,
		BatchSize:   batch,
		MaxInFlight: 8,
	}, records, blobs, format.New(nil, nil, nil), fixedClock{at: now}, nil, nil)
}

func TestObjectNameLabels(t *testing.T) {
	t.Parallel()

	c := newTestCruncher(memory.NewBlobStore(), recmemory.NewRecordStore(), time.Now().UTC(), 10000)
	day := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "crawled/r2/2026-08-05-00000.jsonl", c.ObjectName(day, 0))
	require.Equal(t, "crawled/r2/2026-08-05-10000.jsonl", c.ObjectName(day, 10000))
	require.Equal(t, "crawled/r2/2026-08-05-20000.jsonl", c.ObjectName(day, 20000))
}

func TestRunSplitsDayIntoBatches(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 6, 2, 0, 0, 0, time.UTC)
	day := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)

	blobs := &countingBlobs{BlobStore: memory.NewBlobStore()}
	records := recmemory.NewRecordStore()
	seedDay(t, records, blobs.BlobStore, day, 25)

	c := newTestCruncher(blobs, records, now, 10)

	var produced []string
	require.NoError(t, c.Run(context.Background(), func(name string) {
		produced = append(produced, name)
	}))

	require.Equal(t, []string{
		"crawled/r2/2026-08-05-00000.jsonl",
		"crawled/r2/2026-08-05-10.jsonl",
		"crawled/r2/2026-08-05-20.jsonl",
	}, produced)

	last, err := blobs.GetObject(context.Background(), "crawled/r2/2026-08-05-20.jsonl")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(last), "\n"), "\n")
	require.Len(t, lines, 5)

	var line struct {
		URL     string `json:"url"`
		HTML    string `json:"html"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &line))
	require.Equal(t, "https://site.test/20", line.URL)
	require.NotEmpty(t, line.HTML)
	require.NotEmpty(t, line.Content)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 6, 2, 0, 0, 0, time.UTC)
	day := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)

	blobs := &countingBlobs{BlobStore: memory.NewBlobStore()}
	records := recmemory.NewRecordStore()
	seedDay(t, records, blobs.BlobStore, day, 7)

	c := newTestCruncher(blobs, records, now, 10)
	require.NoError(t, c.Run(context.Background(), nil))
	firstPuts := blobs.puts.Load()

	require.NoError(t, c.Run(context.Background(), nil))
	require.Equal(t, firstPuts, blobs.puts.Load(), "second run must upload nothing")
}

func TestRunExcludesToday(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 6, 2, 0, 0, 0, time.UTC)
	today := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)

	blobs := &countingBlobs{BlobStore: memory.NewBlobStore()}
	records := recmemory.NewRecordStore()
	seedDay(t, records, blobs.BlobStore, today, 3)

	c := newTestCruncher(blobs, records, now, 10)
	var produced []string
	require.NoError(t, c.Run(context.Background(), func(name string) {
		produced = append(produced, name)
	}))
	require.Empty(t, produced)
}

func TestRunSkipsBrokenSnapshots(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 6, 2, 0, 0, 0, time.UTC)
	day := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	blobs := &countingBlobs{BlobStore: memory.NewBlobStore()}
	records := recmemory.NewRecordStore()
	seedDay(t, records, blobs.BlobStore, day, 2)

	// One record whose snapshot blob is not valid JSON.
	_, err := blobs.BlobStore.PutObject(ctx, "snapshots/broken", "application/json", []byte("not json"))
	require.NoError(t, err)
	require.NoError(t, records.InsertRecord(ctx, reader.CrawledRecord{
		ID:           "broken",
		CreatedAt:    day.Add(time.Hour),
		URL:          "https://site.test/broken",
		SnapshotPath: "snapshots/broken",
	}))

	c := newTestCruncher(blobs, records, now, 10)
	require.NoError(t, c.Run(ctx, nil))

	data, err := blobs.GetObject(ctx, "crawled/r2/2026-08-05-00000.jsonl")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
}
