// Package cruncher batches stored snapshots into daily JSONL archives.
package cruncher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avlecchia/lectern/internal/format"
	"github.com/avlecchia/lectern/internal/progress"
	"github.com/avlecchia/lectern/internal/reader"
)

// Config controls the crunch window and batching.
type Config struct {
	Prefix      string
	Rev         int
	TMinusDays  int
	BatchSize   int
	MaxInFlight int
}

// Cruncher is the idempotent per-day batch job.
type Cruncher struct {
	cfg       Config
	records   reader.RecordStore
	blobs     reader.BlobStore
	formatter *format.Formatter
	clock     reader.Clock
	hub       *progress.Hub
	logger    *zap.Logger
}

// New wires the cruncher's collaborators.
func New(cfg Config, records reader.RecordStore, blobs reader.BlobStore, formatter *format.Formatter, clock reader.Clock, hub *progress.Hub, logger *zap.Logger) *Cruncher {
	if cfg.Prefix == "" {
		cfg.Prefix = "crawled"
	}
	if cfg.TMinusDays <= 0 {
		cfg.TMinusDays = 31
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cruncher{
		cfg:       cfg,
		records:   records,
		blobs:     blobs,
		formatter: formatter,
		clock:     clock,
		hub:       hub,
		logger:    logger,
	}
}

// archiveLine is one record of the daily archive file.
type archiveLine struct {
	URL     string `json:"url"`
	HTML    string `json:"html"`
	Content string `json:"content"`
}

// ObjectName renders the archive object name for one (day, offset) batch.
// The first batch keeps the historical literal "00000" label; later offsets
// are plain decimal.
func (c *Cruncher) ObjectName(day time.Time, offset int) string {
	label := "00000"
	if offset != 0 {
		label = strconv.Itoa(offset)
	}
	return fmt.Sprintf("%s/r%d/%s-%s.jsonl", c.cfg.Prefix, c.cfg.Rev, day.UTC().Format("2006-01-02"), label)
}

// Run iterates days from now-TMinus up to but excluding today (UTC) and
// crunches every batch not yet present in object storage. Produced file
// names are reported through emit as they upload.
func (c *Cruncher) Run(ctx context.Context, emit func(filename string)) error {
	if emit == nil {
		emit = func(string) {}
	}
	now := c.now()
	today := now.Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -c.cfg.TMinusDays)

	c.emitProgress(progress.Event{Stage: progress.StageCrunchStart})
	c.logger.Info("crunch window",
		zap.Time("from", start), zap.Time("until", today), zap.Int("rev", c.cfg.Rev))

	var runErr error
	for day := start; day.Before(today); day = day.AddDate(0, 0, 1) {
		if err := c.crunchDay(ctx, day, emit); err != nil {
			runErr = fmt.Errorf("crunch %s: %w", day.Format("2006-01-02"), err)
			break
		}
	}

	doneEvt := progress.Event{Stage: progress.StageCrunchDone}
	if runErr != nil {
		doneEvt.Err = runErr.Error()
	}
	c.emitProgress(doneEvt)
	return runErr
}

func (c *Cruncher) crunchDay(ctx context.Context, day time.Time, emit func(string)) error {
	for offset := 0; ; offset += c.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := c.ObjectName(day, offset)

		exists, err := c.blobs.Exists(ctx, name)
		if err != nil {
			return reader.WrapError(reader.KindStorageFailure, "check archive", err)
		}
		if exists {
			c.logger.Debug("archive already present, skipping", zap.String("object", name))
			continue
		}

		records, err := c.records.ListByDay(ctx, day, offset, c.cfg.BatchSize)
		if err != nil {
			return reader.WrapError(reader.KindStorageFailure, "list records", err)
		}
		if len(records) == 0 {
			return nil
		}

		if err := c.crunchBatch(ctx, name, records); err != nil {
			return err
		}
		emit(name)
		c.emitProgress(progress.Event{Stage: progress.StageCrunchFile, File: name})

		if len(records) < c.cfg.BatchSize {
			return nil
		}
	}
}

// crunchBatch formats one batch into a temp file and uploads it. Snapshot
// fetches run with bounded concurrency; the file is written in record order.
func (c *Cruncher) crunchBatch(ctx context.Context, name string, records []reader.CrawledRecord) error {
	lines := make([][]byte, len(records))
	sem := make(chan struct{}, c.cfg.MaxInFlight)
	var wg sync.WaitGroup

	for i, rec := range records {
		wg.Add(1)
		go func(i int, rec reader.CrawledRecord) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			line, err := c.formatRecord(ctx, rec)
			if err != nil {
				// A broken snapshot skips the record, not the batch.
				c.logger.Warn("record skipped",
					zap.String("record_id", rec.ID), zap.Error(err))
				return
			}
			lines[i] = line
		}(i, rec)
	}
	wg.Wait()

	tmp, err := os.CreateTemp("", "lectern-crunch-*.jsonl")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	writer := bufio.NewWriter(tmp)
	for _, line := range lines {
		if line == nil {
			continue
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write archive line: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write archive line: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}

	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return fmt.Errorf("read archive back: %w", err)
	}
	if _, err := c.blobs.PutObject(ctx, name, "application/jsonl", data); err != nil {
		return reader.WrapError(reader.KindStorageFailure, "upload archive", err)
	}
	c.logger.Info("archive uploaded", zap.String("object", name), zap.Int("records", len(records)))
	return nil
}

func (c *Cruncher) formatRecord(ctx context.Context, rec reader.CrawledRecord) ([]byte, error) {
	blob, err := c.blobs.GetObject(ctx, rec.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	var snap reader.Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	res := reader.PageResult{URL: rec.URL, Snapshot: snap}
	page, err := c.formatter.FormatResult(ctx, reader.ModeDefault, res, reader.RequestOptions{})
	if err != nil {
		return nil, fmt.Errorf("format snapshot: %w", err)
	}
	if page.Content == "" {
		page, err = c.formatter.FormatResult(ctx, reader.ModeMarkdown, res, reader.RequestOptions{})
		if err != nil {
			return nil, fmt.Errorf("format snapshot fallback: %w", err)
		}
	}

	return json.Marshal(archiveLine{
		URL:     page.URL,
		HTML:    snap.HTML,
		Content: page.Content,
	})
}

func (c *Cruncher) now() time.Time {
	if c.clock != nil {
		return c.clock.Now()
	}
	return time.Now().UTC()
}

func (c *Cruncher) emitProgress(evt progress.Event) {
	if c.hub == nil {
		return
	}
	evt.At = c.now()
	c.hub.Emit(evt)
}
