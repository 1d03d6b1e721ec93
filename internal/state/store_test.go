package state

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/bootrelay/internal/storage"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteStore(db)
}

func TestSQLiteStoreLoadMissingReturnsZero(t *testing.T) {
	t.Parallel()

	h, err := openStore(t).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Handles{}, h)
}

func TestSQLiteStoreLastWriteWins(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, Handles{Dispatcher: 1, Callback: 100}))
	require.NoError(t, s.Save(ctx, Handles{Dispatcher: 1, Callback: 200}))

	h, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Handles{Dispatcher: 1, Callback: 200}, h)
}

func TestSQLiteStoreKeepsFull64BitRange(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	want := Handles{Dispatcher: math.MaxInt64, Callback: math.MinInt64}

	require.NoError(t, s.Save(ctx, want))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	db, err := storage.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, NewSQLiteStore(db).Save(ctx, Handles{Dispatcher: 7, Callback: 8}))
	require.NoError(t, db.Close())

	db, err = storage.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h, err := NewSQLiteStore(db).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Handles{Dispatcher: 7, Callback: 8}, h)
}

func TestSQLiteStoreUsesNamespacedKeys(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Handles{Dispatcher: 3, Callback: 4}))

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM handle_store WHERE namespace = ? AND key IN (?, ?);",
		Namespace, KeyDispatcher, KeyCallback,
	).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			_ = s.Save(ctx, Handles{Dispatcher: i, Callback: i * 10})
			_, _ = s.Load(ctx)
		}(i)
	}
	wg.Wait()

	h, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.Dispatcher*10, h.Callback, "pair must be written atomically")
}
