package storage

import (
	"testing"

	"github.com/raftkv/raft"
	"github.com/stretchr/testify/require"
)

func TestStateStoreGetSetExists(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	s, err := NewStateStore(db, "node-1")
	require.NoError(t, err)

	require.False(t, s.Exists("current_term"))
	_, err = s.Get("current_term")
	require.ErrorIs(t, err, raft.ErrNotFound)

	require.NoError(t, s.Set("current_term", "1"))
	require.True(t, s.Exists("current_term"))
	value, err := s.Get("current_term")
	require.NoError(t, err)
	require.Equal(t, "1", value)

	require.NoError(t, s.Set("current_term", "2"))
	value, err = s.Get("current_term")
	require.NoError(t, err)
	require.Equal(t, "2", value)
}

func TestStateStoreIsolatedPerPeer(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	a, err := NewStateStore(db, "127.0.0.1:7400")
	require.NoError(t, err)
	b, err := NewStateStore(db, "127.0.0.1:7401")
	require.NoError(t, err)

	require.NoError(t, a.Set("voted_for", "a"))
	require.False(t, b.Exists("voted_for"))
}

func TestLogStoreAppendAndGet(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	l, err := NewLogStore(db, "node-1")
	require.NoError(t, err)

	n, err := l.Len()
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, l.Append(raft.LogEntry{Term: 1, Command: map[string]interface{}{"op": "set", "key": "x", "value": "1"}}))
	require.NoError(t, l.Append(raft.LogEntry{Term: 1, Command: map[string]interface{}{"op": "set", "key": "y", "value": "2"}}))

	n, err = l.Len()
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	entry, err := l.Get(1)
	require.NoError(t, err)
	require.EqualValues(t, 1, entry.Term)
	require.Equal(t, "x", entry.Command["key"])

	_, err = l.Get(3)
	require.ErrorIs(t, err, raft.ErrNotFound)
}

func TestLogStoreAppendMany(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	l, err := NewLogStore(db, "node-1")
	require.NoError(t, err)

	entries := []raft.LogEntry{
		{Term: 1, Command: map[string]interface{}{"key": "x"}},
		{Term: 1, Command: map[string]interface{}{"key": "y"}},
		{Term: 2, Command: map[string]interface{}{"key": "z"}},
	}
	require.NoError(t, l.AppendMany(entries))

	got, err := l.Range(1, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.EqualValues(t, 2, got[2].Term)
}

func TestLogStoreEraseSuffixFrom(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	l, err := NewLogStore(db, "node-1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(raft.LogEntry{Term: 1, Command: map[string]interface{}{"i": i}}))
	}
	require.NoError(t, l.EraseSuffixFrom(3))

	n, err := l.Len()
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	_, err = l.Get(3)
	require.NoError(t, err)
	_, err = l.Get(4)
	require.ErrorIs(t, err, raft.ErrNotFound)

	// Appending after a truncation continues right after the kept entry.
	require.NoError(t, l.Append(raft.LogEntry{Term: 2, Command: map[string]interface{}{"i": "new"}}))
	n, err = l.Len()
	require.NoError(t, err)
	require.EqualValues(t, 4, n)
	entry, err := l.Get(4)
	require.NoError(t, err)
	require.EqualValues(t, 2, entry.Term)
}

func TestLogStoreRangeOutOfBounds(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	l, err := NewLogStore(db, "node-1")
	require.NoError(t, err)
	require.NoError(t, l.Append(raft.LogEntry{Term: 1, Command: map[string]interface{}{}}))

	got, err := l.Range(5, 10)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = l.Range(3, 1)
	require.NoError(t, err)
	require.Empty(t, got)
}
