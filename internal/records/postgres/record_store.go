// Package postgres provides the Postgres-backed crawled-record index.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avlecchia/lectern/internal/reader"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStoreConfig controls the Postgres connection pool used for record rows.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RecordStore reads and writes crawled-record rows in Postgres. Rows are
// ordered by created_at ascending; the cruncher pages through them with
// offset/limit inside a UTC day window.
type RecordStore struct {
	pool  querier
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "crawled_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool querier, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawled_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InsertRecord persists one crawled-record row.
func (s *RecordStore) InsertRecord(ctx context.Context, rec reader.CrawledRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (id, created_at, url, snapshot_path) VALUES ($1, $2, $3, $4)",
		s.table,
	)
	if _, err := s.pool.Exec(ctx, query, rec.ID, rec.CreatedAt, rec.URL, rec.SnapshotPath); err != nil {
		return fmt.Errorf("insert crawled record: %w", err)
	}
	return nil
}

// ListByDay returns records with created_at inside the UTC day starting at
// day, ordered ascending, paged by offset/limit.
func (s *RecordStore) ListByDay(ctx context.Context, day time.Time, offset, limit int) ([]reader.CrawledRecord, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("record store is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	query := fmt.Sprintf(
		"SELECT id, created_at, url, snapshot_path FROM %s WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC OFFSET $3 LIMIT $4",
		s.table,
	)
	rows, err := s.pool.Query(ctx, query, start, end, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("query crawled records: %w", err)
	}
	defer rows.Close()

	var records []reader.CrawledRecord
	for rows.Next() {
		var rec reader.CrawledRecord
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.URL, &rec.SnapshotPath); err != nil {
			return nil, fmt.Errorf("scan crawled record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawled records: %w", err)
	}
	return records, nil
}
