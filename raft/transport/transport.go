// Package transport provides the Peer I/O Facade (spec.md §4.6): a
// best-effort, unordered, duplicating datagram transport plus the
// codec/cipher pipeline that frames messages onto the wire. It is
// grounded in pyraft/network.py's UDPProtocol, generalised from asyncio's
// single callback into Go's Transport interface so raft.Server can be
// driven by either a real UDPTransport or an in-process LoopbackTransport
// in tests.
package transport

import "github.com/raftkv/raft"

// Transport is the abstraction raft.Server drives its network I/O
// through. Implementations make no delivery guarantees: a Send may be
// dropped, duplicated, or reordered with respect to other Sends, mirroring
// UDP semantics (spec.md §6). Peer addresses are opaque strings matching
// whatever peer id scheme the caller configured the Server with.
//
// Serve's handler parameter is deliberately an unnamed func type, not a
// defined Handler type: raft.Server declares its own Transport interface
// with the identical unnamed signature so that UDPTransport and
// LoopbackTransport satisfy it without raft importing this package (only
// this package imports raft, never the reverse).
type Transport interface {
	// LocalAddr is this transport's own address, used as the From for
	// outgoing peer-to-peer bookkeeping.
	LocalAddr() string

	// Send encodes and ships msg to a single peer, best-effort.
	Send(to string, msg raft.Message) error

	// Broadcast sends msg to every address in to, best-effort, skipping
	// addresses that equal LocalAddr().
	Broadcast(to []string, msg raft.Message) error

	// Serve starts the receive loop, invoking handler for every
	// successfully decoded inbound datagram, until Close is called.
	// Serve blocks; callers run it in its own goroutine.
	Serve(handler func(from string, msg raft.Message)) error

	// Close releases the underlying socket/registry entry, unblocking any
	// in-flight Serve call.
	Close() error
}
