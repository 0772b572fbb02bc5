package raft

// MessageType tags the wire encoding of a Message so the codec can decode
// it without out-of-band type information, mirroring pyraft's schema
// dataclasses (each of which carries its own `type` field).
type MessageType string

const (
	MessageRequestVote           MessageType = "request_vote"
	MessageRequestVoteResponse   MessageType = "request_vote_response"
	MessageAppendEntries         MessageType = "append_entries"
	MessageAppendEntriesResponse MessageType = "append_entries_response"
)

// Message is the tagged union of the four RPC messages the Role Engine
// exchanges with its peers. Unknown tags are dropped by the codec before a
// Message ever reaches the Role Engine.
type Message interface {
	MsgType() MessageType
	MsgTerm() uint64
}

// LogEntry is a single (term, command) pair in the replicated log.
// Command is an application-defined key/value update, treated as an opaque
// mapping by the core.
type LogEntry struct {
	Term    uint64                 `msgpack:"term" json:"term"`
	Command map[string]interface{} `msgpack:"command" json:"command"`
}

// RequestVote is sent by a Candidate to every other peer when it starts an
// election.
type RequestVote struct {
	Type         MessageType `msgpack:"type" json:"type"`
	Term         uint64      `msgpack:"term" json:"term"`
	CandidateID  string      `msgpack:"candidate_id" json:"candidate_id"`
	LastLogIndex uint64      `msgpack:"last_log_index" json:"last_log_index"`
	LastLogTerm  uint64      `msgpack:"last_log_term" json:"last_log_term"`
}

func (m RequestVote) MsgType() MessageType { return MessageRequestVote }
func (m RequestVote) MsgTerm() uint64      { return m.Term }

// RequestVoteResponse answers a RequestVote.
type RequestVoteResponse struct {
	Type        MessageType `msgpack:"type" json:"type"`
	Term        uint64      `msgpack:"term" json:"term"`
	VoteGranted bool        `msgpack:"vote_granted" json:"vote_granted"`
}

func (m RequestVoteResponse) MsgType() MessageType { return MessageRequestVoteResponse }
func (m RequestVoteResponse) MsgTerm() uint64      { return m.Term }

// AppendEntries is sent by a Leader both to replicate new entries and, with
// Entries empty, as a heartbeat.
type AppendEntries struct {
	Type         MessageType `msgpack:"type" json:"type"`
	Term         uint64      `msgpack:"term" json:"term"`
	LeaderID     string      `msgpack:"leader_id" json:"leader_id"`
	PrevLogIndex uint64      `msgpack:"prev_log_index" json:"prev_log_index"`
	PrevLogTerm  uint64      `msgpack:"prev_log_term" json:"prev_log_term"`
	Entries      []LogEntry  `msgpack:"entries" json:"entries"`
	LeaderCommit uint64      `msgpack:"leader_commit" json:"leader_commit"`
	RequestID    uint64      `msgpack:"request_id" json:"request_id"`
}

func (m AppendEntries) MsgType() MessageType { return MessageAppendEntries }
func (m AppendEntries) MsgTerm() uint64      { return m.Term }

// AppendEntriesResponse answers an AppendEntries. On success it carries
// the responder's own log position, which the leader uses for
// match_index/next_index. Rejections leave LastLogIndex/LastLogTerm at
// zero, and the leader does not read them: it steps next_index back by one.
type AppendEntriesResponse struct {
	Type         MessageType `msgpack:"type" json:"type"`
	Term         uint64      `msgpack:"term" json:"term"`
	Success      bool        `msgpack:"success" json:"success"`
	LastLogIndex uint64      `msgpack:"last_log_index" json:"last_log_index"`
	LastLogTerm  uint64      `msgpack:"last_log_term" json:"last_log_term"`
	RequestID    uint64      `msgpack:"request_id" json:"request_id"`
}

func (m AppendEntriesResponse) MsgType() MessageType { return MessageAppendEntriesResponse }
func (m AppendEntriesResponse) MsgTerm() uint64      { return m.Term }
