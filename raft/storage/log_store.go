package storage

import (
	"bytes"
	"database/sql"
	"fmt"

	"github.com/raftkv/raft"
	"github.com/vmihailenco/msgpack/v5"
)

// LogStore persists the replicated log in a table named logs_<peer_id>,
// one row per 1-based index, mirroring pyraft/storage.py's LogsStorage
// (get_item/count/append_item/append_items/erase_from). The command
// payload of each entry is msgpack-encoded, the same codec the wire
// transport uses, so no separate on-disk format needs maintaining.
type LogStore struct {
	db    *sql.DB
	table string
}

var _ raft.LogStore = (*LogStore)(nil)

// NewLogStore creates (if absent) the log table for peerID.
func NewLogStore(db *sql.DB, peerID string) (*LogStore, error) {
	l := &LogStore{db: db, table: "logs_" + tableSuffix(peerID)}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		idx INTEGER PRIMARY KEY,
		term INTEGER NOT NULL,
		command BLOB NOT NULL
	)`, l.table)
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", l.table, err)
	}
	return l, nil
}

func encodeCommand(command map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(command); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCommand(data []byte) (map[string]interface{}, error) {
	var command map[string]interface{}
	if err := msgpack.NewDecoder(bytes.NewReader(data)).Decode(&command); err != nil {
		return nil, err
	}
	return command, nil
}

// Append adds entry at index Len()+1.
func (l *LogStore) Append(entry raft.LogEntry) error {
	return l.AppendMany([]raft.LogEntry{entry})
}

// AppendMany adds entries starting at index Len()+1, in a single
// transaction so a crash mid-batch never leaves a gap.
func (l *LogStore) AppendMany(entries []raft.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin append on %s: %w", l.table, err)
	}
	defer tx.Rollback()

	var next int64
	query := fmt.Sprintf(`SELECT COALESCE(MAX(idx), 0) FROM %s`, l.table)
	if err := tx.QueryRow(query).Scan(&next); err != nil {
		return fmt.Errorf("storage: append max-index on %s: %w", l.table, err)
	}
	next++

	insert := fmt.Sprintf(`INSERT INTO %s (idx, term, command) VALUES (?, ?, ?)`, l.table)
	for _, entry := range entries {
		payload, err := encodeCommand(entry.Command)
		if err != nil {
			return fmt.Errorf("storage: encode command at %d: %w", next, err)
		}
		if _, err := tx.Exec(insert, next, entry.Term, payload); err != nil {
			return fmt.Errorf("storage: append at %d on %s: %w", next, l.table, err)
		}
		next++
	}
	return tx.Commit()
}

// Get returns the 1-based indexed entry, or raft.ErrNotFound.
func (l *LogStore) Get(index uint64) (raft.LogEntry, error) {
	query := fmt.Sprintf(`SELECT term, command FROM %s WHERE idx = ?`, l.table)
	var term uint64
	var payload []byte
	err := l.db.QueryRow(query, index).Scan(&term, &payload)
	if err == sql.ErrNoRows {
		return raft.LogEntry{}, raft.ErrNotFound
	}
	if err != nil {
		return raft.LogEntry{}, fmt.Errorf("storage: get %s[%d]: %w", l.table, index, err)
	}
	command, err := decodeCommand(payload)
	if err != nil {
		return raft.LogEntry{}, fmt.Errorf("storage: decode %s[%d]: %w", l.table, index, err)
	}
	return raft.LogEntry{Term: term, Command: command}, nil
}

// Range returns entries [lo, hi] inclusive, both 1-based. An empty or
// out-of-range window returns an empty slice, not an error.
func (l *LogStore) Range(lo, hi uint64) ([]raft.LogEntry, error) {
	if hi < lo {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT term, command FROM %s WHERE idx >= ? AND idx <= ? ORDER BY idx ASC`, l.table)
	rows, err := l.db.Query(query, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("storage: range %s[%d:%d]: %w", l.table, lo, hi, err)
	}
	defer rows.Close()

	var entries []raft.LogEntry
	for rows.Next() {
		var term uint64
		var payload []byte
		if err := rows.Scan(&term, &payload); err != nil {
			return nil, fmt.Errorf("storage: scan %s[%d:%d]: %w", l.table, lo, hi, err)
		}
		command, err := decodeCommand(payload)
		if err != nil {
			return nil, fmt.Errorf("storage: decode entry in %s[%d:%d]: %w", l.table, lo, hi, err)
		}
		entries = append(entries, raft.LogEntry{Term: term, Command: command})
	}
	return entries, rows.Err()
}

// Len returns the index of the last entry (0 if the log is empty).
func (l *LogStore) Len() (uint64, error) {
	query := fmt.Sprintf(`SELECT COALESCE(MAX(idx), 0) FROM %s`, l.table)
	var n uint64
	if err := l.db.QueryRow(query).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: len %s: %w", l.table, err)
	}
	return n, nil
}

// EraseSuffixFrom deletes every entry at index > index, leaving index
// itself (and everything before it) intact. A follower calls this with
// its matched prefix length once an incoming AppendEntries' PrevLogIndex
// check has succeeded, discarding any conflicting or stale tail before
// the leader's entries (if any) are appended.
func (l *LogStore) EraseSuffixFrom(index uint64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE idx > ?`, l.table)
	if _, err := l.db.Exec(query, index); err != nil {
		return fmt.Errorf("storage: erase-suffix %s after %d: %w", l.table, index, err)
	}
	return nil
}
