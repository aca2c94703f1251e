// ABOUTME: Store interface and backend selection for dedupe cache persistence
// ABOUTME: Loads snapshots into a ready-to-use cache and reports load failures to the caller

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/ciri/internal/dedupe"
)

// ErrCorrupt is returned when persisted data exists but cannot be decoded.
var ErrCorrupt = errors.New("corrupt cache snapshot")

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// formatVersion is the version written into JSON snapshots.
const formatVersion = 1

// Store loads and saves dedupe snapshots.
type Store interface {
	// Load returns the last saved snapshot.
	Load(ctx context.Context) (dedupe.Snapshot, error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, snap dedupe.Snapshot) error
	Close() error
}

// Open returns the Store for the named backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendJSON, "":
		return NewJSONFile(path), nil
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// LoadCache loads the stored snapshot and restores it into a cache with the
// given per-scope capacity. On error no cache is returned; the caller decides
// how to recover.
func LoadCache(ctx context.Context, st Store, capacity int, opts ...dedupe.Option) (*dedupe.Cache, error) {
	snap, err := st.Load(ctx)
	if err != nil {
		return nil, err
	}
	return dedupe.Restore(capacity, snap, opts...), nil
}
