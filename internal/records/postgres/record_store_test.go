package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/avlecchia/lectern/internal/reader"
)

func TestInsertRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "crawled_records")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := reader.CrawledRecord{
		ID:           "0192f0c1-aaaa-7bbb-cccc-dddddddddddd",
		CreatedAt:    now,
		URL:          "https://example.com",
		SnapshotPath: "snapshots/0192f0c1-aaaa-7bbb-cccc-dddddddddddd",
	}

	mock.ExpectExec("INSERT INTO crawled_records").
		WithArgs(rec.ID, rec.CreatedAt, rec.URL, rec.SnapshotPath).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.InsertRecord(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByDayWindowAndPaging(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "crawled_records")
	require.NoError(t, err)

	day := time.Date(2026, 8, 5, 13, 45, 0, 0, time.UTC)
	start := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	rows := pgxmock.NewRows([]string{"id", "created_at", "url", "snapshot_path"}).
		AddRow("a", start.Add(time.Hour), "https://a.test", "snapshots/a").
		AddRow("b", start.Add(2*time.Hour), "https://b.test", "snapshots/b")

	mock.ExpectQuery("SELECT id, created_at, url, snapshot_path FROM crawled_records").
		WithArgs(start, end, 10000, 10000).
		WillReturnRows(rows)

	records, err := store.ListByDay(context.Background(), day, 10000, 10000)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "a", records[0].ID)
	require.Equal(t, "https://b.test", records[1].URL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByDayRejectsZeroLimit(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "")
	require.NoError(t, err)

	_, err = store.ListByDay(context.Background(), time.Now().UTC(), 0, 0)
	require.Error(t, err)
}

func TestNewRecordStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRecordStoreWithPool(mock, "bad-table;drop")
	require.Error(t, err)
}
