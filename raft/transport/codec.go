package transport

import (
	"encoding/json"
	"fmt"

	"github.com/raftkv/raft"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns a raft.Message into bytes and back, mirroring
// pyraft/serializer.py's Serializer abstraction (JsonSerializer /
// MsgPackSerializer). Every message carries its own Type field, so
// Decode can be implemented as peek-then-dispatch without an external
// framing layer.
type Codec interface {
	Encode(msg raft.Message) ([]byte, error)
	Decode(data []byte) (raft.Message, error)
}

type typePeek struct {
	Type raft.MessageType `msgpack:"type" json:"type"`
}

func dispatch(t raft.MessageType) (raft.Message, error) {
	switch t {
	case raft.MessageRequestVote:
		return &raft.RequestVote{}, nil
	case raft.MessageRequestVoteResponse:
		return &raft.RequestVoteResponse{}, nil
	case raft.MessageAppendEntries:
		return &raft.AppendEntries{}, nil
	case raft.MessageAppendEntriesResponse:
		return &raft.AppendEntriesResponse{}, nil
	default:
		return nil, fmt.Errorf("transport: unknown message type %q", t)
	}
}

// derefMessage converts a decoded pointer back to the value type that
// satisfies raft.Message (the concrete structs implement it on value
// receivers, matching pyraft's immutable dataclasses).
func derefMessage(msg raft.Message) raft.Message {
	switch m := msg.(type) {
	case *raft.RequestVote:
		return *m
	case *raft.RequestVoteResponse:
		return *m
	case *raft.AppendEntries:
		return *m
	case *raft.AppendEntriesResponse:
		return *m
	default:
		return msg
	}
}

// MsgpackCodec is the default wire codec, grounded in pyraft's
// MsgPackSerializer (msgpack over the same dataclass shapes). It mirrors
// pyraft's default: compact binary framing suitable for UDP's ~64KB
// datagram ceiling.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(msg raft.Message) ([]byte, error) {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("transport: msgpack encode: %w", err)
	}
	return data, nil
}

func (MsgpackCodec) Decode(data []byte) (raft.Message, error) {
	var peek typePeek
	if err := msgpack.Unmarshal(data, &peek); err != nil {
		return nil, fmt.Errorf("transport: msgpack peek type: %w", err)
	}
	target, err := dispatch(peek.Type)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("transport: msgpack decode %s: %w", peek.Type, err)
	}
	return derefMessage(target), nil
}

// JSONCodec is a human-readable alternative used for debugging; pyraft
// supports the same choice via JsonSerializer vs MsgPackSerializer.
type JSONCodec struct{}

func (JSONCodec) Encode(msg raft.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("transport: json encode: %w", err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (raft.Message, error) {
	var peek typePeek
	if err := json.Unmarshal(data, &peek); err != nil {
		return nil, fmt.Errorf("transport: json peek type: %w", err)
	}
	target, err := dispatch(peek.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("transport: json decode %s: %w", peek.Type, err)
	}
	return derefMessage(target), nil
}
