// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers schema creation, snapshot round trips, ordering and replacement semantics

package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ciri/internal/dedupe"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(filepath.Dir(dbPath))
	assert.NoError(t, err)
}

func TestSQLiteStore_Load_Empty(t *testing.T) {
	store := setupTestStore(t)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	original := sampleCache()

	require.NoError(t, store.Save(ctx, original.Snapshot()))

	loaded, err := LoadCache(ctx, store, 3)
	require.NoError(t, err)

	assert.Equal(t, original.Snapshot(), loaded.Snapshot())
	assert.True(t, loaded.Contains(18446744073709551615, 7), "max uint64 scope survives")
	assert.True(t, loaded.Contains(42, 18446744073709551614), "large ids survive")
	assert.False(t, loaded.Contains(3, 1))
}

func TestSQLiteStore_PreservesOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, dedupe.Snapshot{5: {9, 3, 7, 1}}))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{9, 3, 7, 1}, snap[5])
}

func TestSQLiteStore_Save_Replaces(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, dedupe.Snapshot{1: {1, 2}, 2: {3}}))
	require.NoError(t, store.Save(ctx, dedupe.Snapshot{2: {4}}))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, dedupe.Snapshot{2: {4}}, snap)
}

func TestSQLiteStore_Save_CancelledKeepsPrevious(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.Save(context.Background(), dedupe.Snapshot{1: {1}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, store.Save(ctx, dedupe.Snapshot{1: {2}}))

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dedupe.Snapshot{1: {1}}, snap)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, dedupe.Snapshot{7: {70, 71}}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	snap, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, dedupe.Snapshot{7: {70, 71}}, snap)
}

func TestNewSQLiteStore_CorruptFileIsReplaced(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	junk := []byte(strings.Repeat("not a database ", 8))
	require.NoError(t, os.WriteFile(dbPath, junk, 0644))
	require.NoError(t, os.WriteFile(dbPath+"-wal", []byte("stale"), 0644))

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)

	moved, err := os.ReadFile(dbPath + ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, junk, moved, "damaged file is kept for inspection")

	// The fresh database is usable.
	require.NoError(t, store.Save(context.Background(), dedupe.Snapshot{1: {1}}))
	snap, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dedupe.Snapshot{1: {1}}, snap)
}

func TestOpen_SQLiteCorruptFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	require.NoError(t, os.WriteFile(dbPath, []byte(strings.Repeat("x", 120)), 0644))

	st, err := Open(BackendSQLite, dbPath)
	require.NoError(t, err)
	defer st.Close()

	cache, err := LoadCache(context.Background(), st, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.TotalEntries())
}
