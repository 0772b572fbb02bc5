package transport

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/raftkv/raft"
)

// loopbackRegistry wires together every LoopbackTransport created against
// the same network name, so a test can stand up a full cluster in one
// process without touching a real socket. It is the generalisation of
// bernerdschaefer-raft's NewLocalPeer/MakePeers helpers to the
// message-passing Transport shape.
type loopbackRegistry struct {
	mu    sync.Mutex
	peers map[string]*LoopbackTransport
}

var registries = struct {
	mu sync.Mutex
	m  map[string]*loopbackRegistry
}{m: make(map[string]*loopbackRegistry)}

func registryFor(network string) *loopbackRegistry {
	registries.mu.Lock()
	defer registries.mu.Unlock()
	r, ok := registries.m[network]
	if !ok {
		r = &loopbackRegistry{peers: make(map[string]*LoopbackTransport)}
		registries.m[network] = r
	}
	return r
}

type inboundDatagram struct {
	from string
	msg  raft.Message
}

// LoopbackTransport delivers messages directly into a sibling
// LoopbackTransport's inbox, in the same process, skipping the
// codec/socket path entirely. Delivery is ordered per sender/receiver
// pair and reliable (unlike UDPTransport) unless the receiver's 256-slot
// inbox is full, in which case the message is dropped. Tests that need
// random drops enable them with SetDropRate; there is no reordering knob.
type LoopbackTransport struct {
	network string
	addr    string
	inbox   chan inboundDatagram
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	dropRate float64
	rng      func() float64
}

// NewLoopbackTransport registers addr on the named in-process network.
// Every LoopbackTransport sharing a network name can address every
// other by its addr string.
func NewLoopbackTransport(network, addr string) *LoopbackTransport {
	t := &LoopbackTransport{
		network: network,
		addr:    addr,
		inbox:   make(chan inboundDatagram, 256),
		closed:  make(chan struct{}),
		rng:     defaultRNG,
	}
	r := registryFor(network)
	r.mu.Lock()
	r.peers[addr] = t
	r.mu.Unlock()
	return t
}

func defaultRNG() float64 { return rand.Float64() }

// SetDropRate makes Send/Broadcast silently discard a fraction of
// outgoing datagrams, for exercising the transport's best-effort
// contract (spec.md §6 edge cases E3/E4).
func (t *LoopbackTransport) SetDropRate(rate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropRate = rate
}

func (t *LoopbackTransport) LocalAddr() string { return t.addr }

func (t *LoopbackTransport) Send(to string, msg raft.Message) error {
	t.mu.Lock()
	drop := t.dropRate > 0 && t.rng() < t.dropRate
	t.mu.Unlock()
	if drop {
		return nil
	}

	r := registryFor(t.network)
	r.mu.Lock()
	peer, ok := r.peers[to]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no loopback peer registered at %s", to)
	}

	select {
	case peer.inbox <- inboundDatagram{from: t.addr, msg: msg}:
	case <-peer.closed:
	default:
		// Full inbox: drop, matching UDP's "best effort" contract under load.
	}
	return nil
}

func (t *LoopbackTransport) Broadcast(to []string, msg raft.Message) error {
	var firstErr error
	for _, addr := range to {
		if addr == t.addr {
			continue
		}
		if err := t.Send(addr, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *LoopbackTransport) Serve(handler func(from string, msg raft.Message)) error {
	for {
		select {
		case d := <-t.inbox:
			handler(d.from, d.msg)
		case <-t.closed:
			return nil
		}
	}
}

func (t *LoopbackTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		r := registryFor(t.network)
		r.mu.Lock()
		delete(r.peers, t.addr)
		r.mu.Unlock()
	})
	return nil
}
