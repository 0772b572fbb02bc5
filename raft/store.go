package raft

import "errors"

// ErrNotFound is returned by StateStore.Get for an unknown key, per
// spec.md §4.2.
var ErrNotFound = errors.New("raft: key not found")

// StateStore is the durable keyed map holding current_term and
// voted_for (spec.md §4.2). Implementations must make Set durable before
// returning, since the Role Engine relies on that to satisfy "a
// RequestVoteResponse with vote_granted=true must not be sent until
// voted_for is durable".
type StateStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Exists(key string) bool
}

// LogStore is the durable, 1-indexed, append-only log (spec.md §4.3).
// Index 0 always means "no entry"; Get/Range operate on 1-based indices.
// EraseSuffixFrom(index) deletes every entry with index strictly greater
// than index, leaving index itself in place.
type LogStore interface {
	Append(entry LogEntry) error
	AppendMany(entries []LogEntry) error
	Get(index uint64) (LogEntry, error)
	Range(lo, hi uint64) ([]LogEntry, error)
	Len() (uint64, error)
	EraseSuffixFrom(index uint64) error
}

// lastLogIndex and lastLogTerm are convenience wrappers used throughout
// the Role Engine; they are not part of the LogStore interface because
// they're derived entirely from Len/Get.
func lastLogIndex(log LogStore) (uint64, error) {
	return log.Len()
}

func lastLogTerm(log LogStore) (uint64, error) {
	n, err := log.Len()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	entry, err := log.Get(n)
	if err != nil {
		return 0, err
	}
	return entry.Term, nil
}
