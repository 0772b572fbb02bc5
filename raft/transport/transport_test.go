package transport

import (
	"testing"
	"time"

	"github.com/raftkv/raft"
	"github.com/stretchr/testify/require"
)

func TestMsgpackCodecRoundTrip(t *testing.T) {
	codec := MsgpackCodec{}

	cases := []raft.Message{
		raft.RequestVote{Type: raft.MessageRequestVote, Term: 3, CandidateID: "a", LastLogIndex: 5, LastLogTerm: 2},
		raft.RequestVoteResponse{Type: raft.MessageRequestVoteResponse, Term: 3, VoteGranted: true},
		raft.AppendEntries{
			Type: raft.MessageAppendEntries, Term: 4, LeaderID: "b", PrevLogIndex: 1, PrevLogTerm: 1,
			Entries: []raft.LogEntry{{Term: 4, Command: map[string]interface{}{"op": "set"}}},
			LeaderCommit: 1, RequestID: 42,
		},
		raft.AppendEntriesResponse{Type: raft.MessageAppendEntriesResponse, Term: 4, Success: true, LastLogIndex: 2, LastLogTerm: 4, RequestID: 42},
	}

	for _, msg := range cases {
		data, err := codec.Encode(msg)
		require.NoError(t, err)
		decoded, err := codec.Decode(data)
		require.NoError(t, err)
		require.Equal(t, msg, decoded)
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := JSONCodec{}
	msg := raft.RequestVote{Type: raft.MessageRequestVote, Term: 1, CandidateID: "a"}
	data, err := codec.Encode(msg)
	require.NoError(t, err)
	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
}

func TestSecretboxCipherRoundTrip(t *testing.T) {
	cipher := NewSecretboxCipher("shared-secret")
	plaintext := []byte("hello raft")

	ciphertext, err := cipher.Seal(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	got, err := cipher.Open(ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)

	other := NewSecretboxCipher("different-secret")
	_, err = other.Open(ciphertext)
	require.Error(t, err)
}

func TestLoopbackTransportDeliversMessages(t *testing.T) {
	network := "test-net-1"
	a := NewLoopbackTransport(network, "a")
	b := NewLoopbackTransport(network, "b")
	defer a.Close()
	defer b.Close()

	received := make(chan raft.Message, 1)
	go b.Serve(func(from string, msg raft.Message) {
		require.Equal(t, "a", from)
		received <- msg
	})

	vote := raft.RequestVote{Type: raft.MessageRequestVote, Term: 1, CandidateID: "a"}
	require.NoError(t, a.Send("b", vote))

	select {
	case msg := <-received:
		require.Equal(t, vote, msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestLoopbackTransportBroadcastSkipsSelf(t *testing.T) {
	network := "test-net-2"
	a := NewLoopbackTransport(network, "a")
	b := NewLoopbackTransport(network, "b")
	c := NewLoopbackTransport(network, "c")
	defer a.Close()
	defer b.Close()
	defer c.Close()

	bGot := make(chan struct{}, 1)
	cGot := make(chan struct{}, 1)
	go b.Serve(func(string, raft.Message) { bGot <- struct{}{} })
	go c.Serve(func(string, raft.Message) { cGot <- struct{}{} })

	msg := raft.AppendEntries{Type: raft.MessageAppendEntries, Term: 1, LeaderID: "a"}
	require.NoError(t, a.Broadcast([]string{"a", "b", "c"}, msg))

	for _, ch := range []chan struct{}{bGot, cGot} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast delivery")
		}
	}
}

func TestLoopbackTransportSendToUnknownPeer(t *testing.T) {
	network := "test-net-3"
	a := NewLoopbackTransport(network, "a")
	defer a.Close()

	err := a.Send("ghost", raft.RequestVote{Type: raft.MessageRequestVote, Term: 1})
	require.Error(t, err)
}
