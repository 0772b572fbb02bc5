package raft

import "errors"

// Error taxonomy, per SPEC_FULL.md §7.
//
// TransportError and DecodeError are not exported as sentinel values:
// transports and codecs return their own wrapped errors, which the Role
// Engine logs and discards without propagating. PersistenceError is
// likewise not a value here — a failed store write is fatal and the
// process exits (see Server.fatal).
var (
	// ErrNotLeader is returned to a client that calls Set or Execute on a
	// peer that is not currently the leader.
	ErrNotLeader = errors.New("raft: not the leader")

	// ErrUnknownLeader is returned instead of ErrNotLeader when Set or
	// Execute reaches a non-leader that has not observed any leader yet.
	// WaitForLeader and Get block rather than return it.
	ErrUnknownLeader = errors.New("raft: no known leader")

	// ErrDeposed is returned from execute_command when the leader steps
	// down before the proposed entry commits.
	ErrDeposed = errors.New("raft: deposed during replication")

	// ErrTimeout is returned when the caller's context expires before a
	// proposed command commits. It is not a protocol-level timeout — Raft
	// itself keeps retrying.
	ErrTimeout = errors.New("raft: timed out waiting for command to commit")

	// ErrIndexOutOfRange names a log read with invalid bounds. The
	// raft/storage LogStore does not return it: its Range yields an empty
	// result for an out-of-range window and its Get yields ErrNotFound.
	ErrIndexOutOfRange = errors.New("raft: log index out of range")

	// ErrStopped is returned by calls made against a Server that has
	// already been stopped.
	ErrStopped = errors.New("raft: server stopped")
)
