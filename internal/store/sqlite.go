// ABOUTME: SQLite backend for dedupe snapshots using modernc.org/sqlite
// ABOUTME: Stores one row per remembered item and replaces the whole snapshot in a transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/2389/ciri/internal/dedupe"
)

// SQLiteStore stores snapshots in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
// The schema is created if it doesn't exist. Parent directories are created
// if needed. A file that is not a usable database is moved aside to
// <path>.corrupt and replaced by an empty one, so a damaged cache never keeps
// the bot from starting.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	s, err := openSQLite(path, logger)
	if err == nil {
		logger.Info("SQLite cache store initialized", "path", path)
		return s, nil
	}
	if path == ":memory:" || !fileExists(path) {
		return nil, err
	}

	logger.Warn("cache database unusable, starting a fresh one", "path", path, "error", err)
	if err := quarantine(path); err != nil {
		return nil, err
	}

	s, err = openSQLite(path, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("SQLite cache store initialized", "path", path, "quarantined", path+corruptSuffix)
	return s, nil
}

// corruptSuffix is appended to a database file that failed to open.
const corruptSuffix = ".corrupt"

func openSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enabling WAL mode: %v", ErrCorrupt, err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", ErrCorrupt, err)
	}
	return s, nil
}

// quarantine moves a damaged database and its WAL files out of the way.
func quarantine(path string) error {
	if err := os.Rename(path, path+corruptSuffix); err != nil {
		return fmt.Errorf("moving damaged database aside: %w", err)
	}
	for _, side := range []string{"-wal", "-shm"} {
		if err := os.Remove(path + side); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s file: %w", side, err)
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS seen (
			scope INTEGER NOT NULL,
			position INTEGER NOT NULL,
			item INTEGER NOT NULL,
			PRIMARY KEY (scope, position)
		);
	`)
	return err
}

// Load reads every scope back in insertion order. An empty database yields an
// empty snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (dedupe.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scope, item FROM seen ORDER BY scope, position`)
	if err != nil {
		return nil, fmt.Errorf("querying cache rows: %w", err)
	}
	defer rows.Close()

	snap := make(dedupe.Snapshot)
	for rows.Next() {
		var scope, item int64
		if err := rows.Scan(&scope, &item); err != nil {
			return nil, fmt.Errorf("%w: scanning row: %v", ErrCorrupt, err)
		}
		// SQLite integers are signed; ids round-trip through their bit pattern.
		key := uint64(scope)
		snap[key] = append(snap[key], uint64(item))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading cache rows: %w", err)
	}
	return snap, nil
}

// Save replaces the stored snapshot atomically.
func (s *SQLiteStore) Save(ctx context.Context, snap dedupe.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM seen`); err != nil {
		return fmt.Errorf("clearing cache rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO seen (scope, position, item) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for scope, items := range snap {
		for pos, item := range items {
			if _, err := stmt.ExecContext(ctx, int64(scope), pos, int64(item)); err != nil {
				return fmt.Errorf("inserting cache row: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
