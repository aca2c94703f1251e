// Package store persists dedupe cache snapshots.
//
// # Backends
//
//   - JSONFile: a single JSON document, the default. Saves go to a temporary
//     file in the same directory which is then renamed over the target, so a
//     failed save leaves the previous file untouched.
//   - SQLiteStore: a modernc.org/sqlite database in WAL mode. Saves replace
//     all rows inside one transaction.
//
// Both implement Store. Open picks one from the configured backend name.
//
// # File format
//
//	{"version": 1, "scopes": {"<scope>": [oldest, ..., newest]}}
//
// Scope keys are decimal strings. Only the ordered id lists are stored; the
// membership index is rebuilt by dedupe.Restore on load.
//
// # Error Handling
//
// Load never returns partial data:
//
//   - a missing file wraps fs.ErrNotExist (the expected first-run state)
//   - unparsable content or an unknown version wraps ErrCorrupt
//
// Callers substitute an empty cache in both cases.
package store
