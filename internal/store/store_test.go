package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ciri/internal/dedupe"
)

// setupJSONStore returns a JSON store in a fresh temp directory.
func setupJSONStore(t *testing.T) *JSONFile {
	t.Helper()
	return NewJSONFile(filepath.Join(t.TempDir(), "cache.json"))
}

func sampleCache() *dedupe.Cache {
	c := dedupe.New(3)
	c.Insert(1, 10)
	c.Insert(1, 20)
	c.Insert(1, 30)
	c.Insert(1, 40) // evicts 10
	c.Insert(18446744073709551615, 7)
	c.Insert(42, 18446744073709551614)
	return c
}

func TestJSONFile_Load_Missing(t *testing.T) {
	st := setupJSONStore(t)

	_, err := st.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.False(t, errors.Is(err, ErrCorrupt))
}

func TestJSONFile_RoundTrip(t *testing.T) {
	st := setupJSONStore(t)
	ctx := context.Background()
	original := sampleCache()

	require.NoError(t, st.Save(ctx, original.Snapshot()))

	loaded, err := LoadCache(ctx, st, 3)
	require.NoError(t, err)

	assert.Equal(t, original.Snapshot(), loaded.Snapshot())
	assert.False(t, loaded.Contains(1, 10))
	assert.True(t, loaded.Contains(1, 40))
	assert.True(t, loaded.Contains(18446744073709551615, 7))
	assert.True(t, loaded.Contains(42, 18446744073709551614))
	assert.False(t, loaded.Contains(2, 10), "absent scope stays absent")
	assert.Equal(t, 3, loaded.Scopes())
}

func TestJSONFile_Save_Overwrites(t *testing.T) {
	st := setupJSONStore(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, dedupe.Snapshot{1: {1, 2, 3}, 2: {9}}))
	require.NoError(t, st.Save(ctx, dedupe.Snapshot{1: {4}}))

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, dedupe.Snapshot{1: {4}}, snap)
}

func TestJSONFile_Save_SkipsEmptyScopes(t *testing.T) {
	st := setupJSONStore(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, dedupe.Snapshot{1: {}, 2: {5}}))

	data, err := os.ReadFile(st.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"scopes":{"2":[5]}}`, string(data))
}

func TestJSONFile_Save_LeavesNoTempFiles(t *testing.T) {
	st := setupJSONStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, st.Save(ctx, dedupe.Snapshot{1: {uint64(i)}}))
	}

	entries, err := os.ReadDir(filepath.Dir(st.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cache.json", entries[0].Name())
}

func TestJSONFile_Save_CancelledKeepsPreviousFile(t *testing.T) {
	st := setupJSONStore(t)
	require.NoError(t, st.Save(context.Background(), dedupe.Snapshot{1: {1}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := st.Save(ctx, dedupe.Snapshot{1: {2}})
	require.ErrorIs(t, err, context.Canceled)

	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dedupe.Snapshot{1: {1}}, snap, "stale, not corrupt")
}

func TestJSONFile_Save_CreatesDirectory(t *testing.T) {
	st := NewJSONFile(filepath.Join(t.TempDir(), "nested", "dir", "cache.json"))

	require.NoError(t, st.Save(context.Background(), dedupe.Snapshot{1: {1}}))

	_, err := os.Stat(st.Path())
	assert.NoError(t, err)
}

func TestJSONFile_Load_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"version":1,"scopes":{"1":[1,2`},
		{"not json", `hello`},
		{"wrong version", `{"version":2,"scopes":{}}`},
		{"missing version", `{"scopes":{"1":[1]}}`},
		{"bad scope key", `{"version":1,"scopes":{"room":[1]}}`},
		{"padded scope key", `{"version":1,"scopes":{"1":[1],"01":[2]}}`},
		{"signed scope key", `{"version":1,"scopes":{"+1":[1]}}`},
		{"negative id", `{"version":1,"scopes":{"1":[-1]}}`},
		{"legacy queue", `{"queue":[1,2,3]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := setupJSONStore(t)
			require.NoError(t, os.WriteFile(st.Path(), []byte(tt.content), 0644))

			cache, err := LoadCache(context.Background(), st, 8)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorrupt)
			assert.Nil(t, cache, "no partial data on failure")
		})
	}
}

func TestLoadCache_AppliesCapacity(t *testing.T) {
	st := setupJSONStore(t)
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, dedupe.Snapshot{1: {1, 2, 3, 4}}))

	c, err := LoadCache(ctx, st, 2)
	require.NoError(t, err)

	assert.Equal(t, dedupe.Snapshot{1: {3, 4}}, c.Snapshot())
}

func TestLoadCache_PassesOptions(t *testing.T) {
	st := setupJSONStore(t)
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, dedupe.Snapshot{1: {1}}))

	changed := false
	c, err := LoadCache(ctx, st, 4, dedupe.WithOnChange(func() { changed = true }))
	require.NoError(t, err)

	c.Insert(1, 2)
	assert.True(t, changed)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(BackendJSON, filepath.Join(dir, "cache.json"))
	require.NoError(t, err)
	assert.IsType(t, &JSONFile{}, st)

	st, err = Open("", filepath.Join(dir, "cache.json"))
	require.NoError(t, err)
	assert.IsType(t, &JSONFile{}, st)

	st, err = Open(BackendSQLite, filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, st)
	require.NoError(t, st.Close())

	_, err = Open("redis", "")
	assert.Error(t, err)
}
