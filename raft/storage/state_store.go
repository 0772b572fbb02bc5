package storage

import (
	"database/sql"
	"fmt"

	"github.com/raftkv/raft"
)

// StateStore persists the current_term/voted_for key space in a table
// named state_<peer_id>, one row per key, mirroring
// pyraft/storage.py's StateStorage (a key/value table accessed through
// get/set/update).
type StateStore struct {
	db    *sql.DB
	table string
}

var _ raft.StateStore = (*StateStore)(nil)

// NewStateStore creates (if absent) the state table for peerID and
// returns a StateStore bound to it.
func NewStateStore(db *sql.DB, peerID string) (*StateStore, error) {
	s := &StateStore{db: db, table: "state_" + tableSuffix(peerID)}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`, s.table)
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", s.table, err)
	}
	return s, nil
}

// Get returns raft.ErrNotFound if key was never set.
func (s *StateStore) Get(key string) (string, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, s.table)
	var value string
	err := s.db.QueryRow(query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", raft.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: get %s/%s: %w", s.table, key, err)
	}
	return value, nil
}

// Set durably upserts key=value before returning, satisfying the
// Role Engine's requirement that current_term/voted_for be on disk
// before any message referencing them is sent.
func (s *StateStore) Set(key, value string) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, s.table)
	if _, err := s.db.Exec(query, key, value); err != nil {
		return fmt.Errorf("storage: set %s/%s: %w", s.table, key, err)
	}
	return nil
}

// Exists reports whether key has ever been set.
func (s *StateStore) Exists(key string) bool {
	_, err := s.Get(key)
	return err == nil
}
