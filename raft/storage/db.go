// Package storage provides SQLite-backed implementations of raft.StateStore
// and raft.LogStore, grounded in pyraft/storage.py's StateStorage and
// LogsStorage (each peer gets its own pair of tables, named after its id,
// inside a single database file so a node's term/vote and log survive a
// restart).
package storage

import (
	"database/sql"
	"fmt"
	"regexp"

	_ "modernc.org/sqlite"
)

// Open opens (creating if necessary) the sqlite database at path in WAL
// mode, matching pyraft's sqlite3.connect(..., isolation_level=None) plus
// a manual "PRAGMA journal_mode=WAL" for concurrent readers during
// snapshotting-free operation.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: enable WAL on %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: enable foreign_keys on %s: %w", path, err)
	}
	return db, nil
}

var unsafeTableChar = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// tableSuffix turns an arbitrary peer id (e.g. "127.0.0.1:7400") into a
// safe SQL identifier fragment. sqlite doesn't support parameterised
// identifiers, so table names are built with fmt.Sprintf; sanitising the
// input here is what keeps that safe.
func tableSuffix(peerID string) string {
	return unsafeTableChar.ReplaceAllString(peerID, "_")
}
