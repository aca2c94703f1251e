// ABOUTME: JSON file backend for dedupe snapshots
// ABOUTME: Writes through a temp file and atomic rename so a failed save only leaves stale data

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/2389/ciri/internal/dedupe"
)

// document is the on-disk JSON layout.
type document struct {
	Version int                 `json:"version"`
	Scopes  map[string][]uint64 `json:"scopes"`
}

// JSONFile stores snapshots in a single JSON file.
type JSONFile struct {
	path string
}

// NewJSONFile returns a JSON store at path. Nothing is touched until the
// first Load or Save.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Path returns the file location.
func (f *JSONFile) Path() string { return f.path }

// Load reads and decodes the snapshot file.
func (f *JSONFile) Load(_ context.Context) (dedupe.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, f.path, doc.Version)
	}

	snap := make(dedupe.Snapshot, len(doc.Scopes))
	for key, items := range doc.Scopes {
		scope, err := strconv.ParseUint(key, 10, 64)
		// Only the canonical spelling is accepted so "1" and "01" cannot both
		// name scope 1.
		if err != nil || strconv.FormatUint(scope, 10) != key {
			return nil, fmt.Errorf("%w: %s: bad scope key %q", ErrCorrupt, f.path, key)
		}
		if len(items) > 0 {
			snap[scope] = items
		}
	}
	return snap, nil
}

// Save encodes snap and atomically replaces the file.
func (f *JSONFile) Save(ctx context.Context, snap dedupe.Snapshot) error {
	doc := document{
		Version: formatVersion,
		Scopes:  make(map[string][]uint64, len(snap)),
	}
	for scope, items := range snap {
		if len(items) == 0 {
			continue
		}
		doc.Scopes[strconv.FormatUint(scope, 10)] = items
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding cache snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	// Last chance to give up without touching the previous file.
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	committed = true
	return nil
}

// Close is a no-op; the file is only open during Load and Save.
func (f *JSONFile) Close() error { return nil }
