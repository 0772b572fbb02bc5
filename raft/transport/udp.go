package transport

import (
	"errors"
	"fmt"
	"net"

	"github.com/raftkv/raft"
	"go.uber.org/zap"
)

// maxDatagramSize follows pyraft's assumption of a single unfragmented
// UDP datagram; 64KiB is the practical ceiling before IP fragmentation
// makes delivery unreliable even on a LAN.
const maxDatagramSize = 65507

// UDPTransport is the production Peer I/O Facade: raw UDP sockets with
// no delivery guarantees, grounded in pyraft/network.py's UDPProtocol
// (asyncio.DatagramProtocol wrapping an optional cryptor around a codec).
type UDPTransport struct {
	conn   *net.UDPConn
	codec  Codec
	cipher Cipher // nil disables encryption
	logger *zap.Logger
	local  string
}

// NewUDPTransport binds addr ("host:port") and returns a transport ready
// to Serve. A nil cipher means datagrams travel in plaintext, matching
// pyraft's CRYPTOR_ENABLED=False default.
func NewUDPTransport(addr string, codec Codec, cipher Cipher, logger *zap.Logger) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UDPTransport{
		conn:   conn,
		codec:  codec,
		cipher: cipher,
		logger: logger,
		local:  conn.LocalAddr().String(),
	}, nil
}

func (t *UDPTransport) LocalAddr() string { return t.local }

func (t *UDPTransport) Send(to string, msg raft.Message) error {
	addr, err := net.ResolveUDPAddr("udp", to)
	if err != nil {
		return fmt.Errorf("transport: resolve peer %s: %w", to, err)
	}
	payload, err := t.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("transport: encode for %s: %w", to, err)
	}
	if t.cipher != nil {
		payload, err = t.cipher.Seal(payload)
		if err != nil {
			return fmt.Errorf("transport: seal for %s: %w", to, err)
		}
	}
	if _, err := t.conn.WriteToUDP(payload, addr); err != nil {
		return fmt.Errorf("transport: send to %s: %w", to, err)
	}
	return nil
}

func (t *UDPTransport) Broadcast(to []string, msg raft.Message) error {
	var firstErr error
	for _, addr := range to {
		if addr == t.local {
			continue
		}
		if err := t.Send(addr, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *UDPTransport) Serve(handler func(from string, msg raft.Message)) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.logger.Warn("udp read error", zap.Error(err))
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		if t.cipher != nil {
			payload, err = t.cipher.Open(payload)
			if err != nil {
				t.logger.Warn("dropping undecryptable datagram", zap.String("from", from.String()), zap.Error(err))
				continue
			}
		}
		msg, err := t.codec.Decode(payload)
		if err != nil {
			t.logger.Warn("dropping undecodable datagram", zap.String("from", from.String()), zap.Error(err))
			continue
		}
		handler(from.String(), msg)
	}
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
