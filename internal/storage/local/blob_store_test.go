package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "nested", "blobs")
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)
	require.NotNil(t, store)

	info, err := os.Stat(base)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestPutGetExists(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "crawled/r2/2026-01-02-00000.jsonl", "application/jsonl", []byte("{}\n"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))

	ok, err := store.Exists(ctx, "crawled/r2/2026-01-02-00000.jsonl")
	require.NoError(t, err)
	require.True(t, ok)

	data, err := store.GetObject(ctx, "crawled/r2/2026-01-02-00000.jsonl")
	require.NoError(t, err)
	require.Equal(t, "{}\n", string(data))

	ok, err = store.Exists(ctx, "crawled/r2/2026-01-03-00000.jsonl")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../outside", "", []byte("x"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "traversal")
}
