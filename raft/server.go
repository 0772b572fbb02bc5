package raft

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Transport is the network facade the Role Engine is driven through.
// raft/transport's UDPTransport and LoopbackTransport satisfy this
// interface structurally (see transport.Transport's doc comment) without
// this package importing that one.
type Transport interface {
	LocalAddr() string
	Send(to string, msg Message) error
	Broadcast(to []string, msg Message) error
	Serve(handler func(from string, msg Message)) error
	Close() error
}

type requestVoteEnvelope struct {
	from string
	msg  RequestVote
}

type requestVoteRespEnvelope struct {
	from string
	msg  RequestVoteResponse
}

type appendEntriesEnvelope struct {
	from string
	msg  AppendEntries
}

type appendEntriesRespEnvelope struct {
	from string
	msg  AppendEntriesResponse
}

type commandEnvelope struct {
	command map[string]interface{}
	result  chan error
}

// Server is one node's Role Engine: the single goroutine in loop() owns
// currentTerm, votedFor, commitIndex, lastApplied, and all role-specific
// bookkeeping, exactly as bernerdschaefer-raft's loop()/followerSelect/
// candidateSelect/leaderSelect own serverState, mirroring those fields
// out to mutex-guarded types (role, termMirror, leaderMirror) for
// external readers. No other goroutine ever touches the unexported
// currentTerm/votedFor/commitIndex/lastApplied/pending fields.
type Server struct {
	id    string
	peers []string
	cfg   Config

	logger     *zap.Logger
	transport  Transport
	stateStore StateStore
	logStore   LogStore
	sm         *StateMachine

	role         *atomicRole
	termMirror   *atomicUint64
	leaderMirror *atomicString

	leaderWaitMu sync.Mutex
	leaderWaitCh chan struct{}

	listenersMu sync.Mutex
	listeners   []RoleChangeListener

	// Event-loop-owned; touched only inside loop().
	currentTerm uint64
	votedFor    string
	hasVoted    bool
	commitIndex uint64
	lastApplied uint64
	leaderHint  string
	pending     map[uint64]chan error

	requestVoteChan       chan requestVoteEnvelope
	requestVoteRespChan   chan requestVoteRespEnvelope
	appendEntriesChan     chan appendEntriesEnvelope
	appendEntriesRespChan chan appendEntriesRespEnvelope
	commandChan           chan commandEnvelope

	electionTimer  *Timer
	heartbeatTimer *Timer
	stepDownTimer  *Timer

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer builds a Role Engine for id, participating in a cluster whose
// full membership (id included) is peers. The Server starts as a
// Follower; call Start to begin the event loop.
func NewServer(id string, peers []string, cfg Config, transport Transport, stateStore StateStore, logStore LogStore, sm *StateMachine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		id:         id,
		peers:      peers,
		cfg:        cfg,
		logger:     logger.With(zap.String("id", id)),
		transport:  transport,
		stateStore: stateStore,
		logStore:   logStore,
		sm:         sm,

		role:         newAtomicRole(RoleFollower),
		termMirror:   &atomicUint64{},
		leaderMirror: &atomicString{},
		leaderWaitCh: make(chan struct{}),

		pending: make(map[uint64]chan error),

		requestVoteChan:       make(chan requestVoteEnvelope, 64),
		requestVoteRespChan:   make(chan requestVoteRespEnvelope, 64),
		appendEntriesChan:     make(chan appendEntriesEnvelope, 64),
		appendEntriesRespChan: make(chan appendEntriesRespEnvelope, 64),
		commandChan:           make(chan commandEnvelope, 16),

		electionTimer:  NewTimer(cfg.electionTimeout(), false),
		heartbeatTimer: NewTimer(cfg.HeartbeatInterval, true),
		stepDownTimer:  NewTimer(cfg.StepDownInterval(), false),

		stopCh: make(chan struct{}),
	}
}

// State returns the current role, for tests, CLI status output, and
// health checks.
func (s *Server) State() Role { return s.role.Get() }

// Term returns the last known currentTerm.
func (s *Server) Term() uint64 { return s.termMirror.Get() }

// Leader returns the last known leader id, or "" if none has been
// observed since startup.
func (s *Server) Leader() string { return s.leaderMirror.Get() }

// Get reads key from the local state machine, after first confirming
// some leader is known in the cluster (pyraft/state.py's get_value,
// gated by the leader_required decorator). It is NOT linearizable: the
// state machine read itself still happens locally, with no read-index
// round trip, consistent with spec.md's read-consistency non-goal. Get
// blocks only long enough to observe a leader; it returns as soon as
// one is known, even if that leader is a different node.
func (s *Server) Get(ctx context.Context, key string) (interface{}, bool, error) {
	if _, err := s.WaitForLeader(ctx); err != nil {
		return nil, false, err
	}
	value, ok := s.sm.Get(key)
	return value, ok, nil
}

// WaitForLeader blocks until some leader is known in the cluster, ctx is
// cancelled, or the server stops, mirroring pyraft/state.py's
// wait_for_election_success.
func (s *Server) WaitForLeader(ctx context.Context) (string, error) {
	for {
		if leader := s.Leader(); leader != "" {
			return leader, nil
		}
		ch := s.leaderWaitSnapshot()
		select {
		case <-ch:
		case <-s.stopCh:
			return "", ErrStopped
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// WaitUntilLeader blocks until peerID specifically is known to be the
// cluster's leader, ctx is cancelled, or the server stops, mirroring
// pyraft/state.py's wait_until_leader.
func (s *Server) WaitUntilLeader(ctx context.Context, peerID string) error {
	for {
		if s.Leader() == peerID {
			return nil
		}
		ch := s.leaderWaitSnapshot()
		select {
		case <-ch:
		case <-s.stopCh:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Server) leaderWaitSnapshot() chan struct{} {
	s.leaderWaitMu.Lock()
	defer s.leaderWaitMu.Unlock()
	return s.leaderWaitCh
}

// notifyLeaderChange wakes every WaitForLeader/WaitUntilLeader caller
// blocked on the leader hint, whenever the event loop updates it.
func (s *Server) notifyLeaderChange() {
	s.leaderWaitMu.Lock()
	close(s.leaderWaitCh)
	s.leaderWaitCh = make(chan struct{})
	s.leaderWaitMu.Unlock()
}

// Set proposes {key: value} as a command and blocks until it commits,
// the proposer is deposed, or ctx is cancelled. It is a convenience
// wrapper over Execute mirroring pyraft/state.py's State.set_value.
func (s *Server) Set(ctx context.Context, key string, value interface{}) error {
	return s.Execute(ctx, map[string]interface{}{key: value})
}

// Execute proposes command and blocks until it commits (nil), the
// proposer steps down before that happens (ErrDeposed), ctx is
// cancelled (ErrTimeout if its deadline passes after the command was
// handed to the event loop), or the server stops. Only the Leader accepts proposals;
// everyone else returns ErrNotLeader or ErrUnknownLeader.
func (s *Server) Execute(ctx context.Context, command map[string]interface{}) error {
	result := make(chan error, 1)
	select {
	case s.commandChan <- commandEnvelope{command: command, result: result}:
	case <-s.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-s.stopCh:
		return ErrStopped
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// Start loads persistent state and launches the receive loop and event
// loop goroutines. It returns once persistent state has been loaded;
// the loops themselves run until Stop is called.
func (s *Server) Start() error {
	if err := s.loadPersistentState(); err != nil {
		return fmt.Errorf("raft: load persistent state: %w", err)
	}
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.receiveLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return nil
}

// Stop signals the event loop to exit, closes the transport to unblock
// the receive loop, and waits for both goroutines to finish.
func (s *Server) Stop() {
	s.requestStop()
	if err := s.transport.Close(); err != nil {
		s.logger.Warn("close transport", zap.Error(err))
	}
	s.wg.Wait()
}

func (s *Server) requestStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// fatal treats a PersistenceError as a crash: spec.md §7 requires the
// process to exit rather than limp along with stores it can no longer
// trust. zap.Logger.Fatal logs the entry and then calls os.Exit(1)
// itself (even on a no-op logger, since the exit behavior is attached
// to the log entry, not the core), so nothing further runs on this
// path.
func (s *Server) fatal(err error) {
	s.requestStop()
	s.logger.Fatal("unrecoverable storage error, crashing", zap.Error(err))
}

func (s *Server) loadPersistentState() error {
	if s.stateStore.Exists("current_term") {
		raw, err := s.stateStore.Get("current_term")
		if err != nil {
			return err
		}
		term, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("raft: corrupt current_term %q: %w", raw, err)
		}
		s.currentTerm = term
	}
	s.termMirror.Set(s.currentTerm)

	if s.stateStore.Exists("voted_for") {
		raw, err := s.stateStore.Get("voted_for")
		if err != nil {
			return err
		}
		if raw != "" {
			s.votedFor = raw
			s.hasVoted = true
		}
	}
	return nil
}

func (s *Server) persistTerm() error {
	if err := s.stateStore.Set("current_term", strconv.FormatUint(s.currentTerm, 10)); err != nil {
		return err
	}
	s.termMirror.Set(s.currentTerm)
	return nil
}

func (s *Server) persistVote() error {
	return s.stateStore.Set("voted_for", s.votedFor)
}

func (s *Server) send(to string, msg Message) {
	if err := s.transport.Send(to, msg); err != nil {
		s.logger.Debug("send failed", zap.String("to", to), zap.Error(err))
	}
}

func (s *Server) dispatch(from string, msg Message) {
	switch m := msg.(type) {
	case RequestVote:
		select {
		case s.requestVoteChan <- requestVoteEnvelope{from, m}:
		default:
		}
	case RequestVoteResponse:
		select {
		case s.requestVoteRespChan <- requestVoteRespEnvelope{from, m}:
		default:
		}
	case AppendEntries:
		select {
		case s.appendEntriesChan <- appendEntriesEnvelope{from, m}:
		default:
		}
	case AppendEntriesResponse:
		select {
		case s.appendEntriesRespChan <- appendEntriesRespEnvelope{from, m}:
		default:
		}
	default:
		s.logger.Warn("dropping message of unexpected type")
	}
}

func (s *Server) receiveLoop() {
	if err := s.transport.Serve(s.dispatch); err != nil {
		s.logger.Debug("transport serve exited", zap.Error(err))
	}
}

// loop is the single-owner event loop: it repeatedly runs the role loop
// matching the current role until Stop is called. Each role loop returns
// either because the role changed (re-dispatch to the new role's loop)
// or because stopCh fired (in which case the outer loop also exits).
func (s *Server) loop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		switch s.role.Get() {
		case RoleFollower:
			s.followerLoop()
		case RoleCandidate:
			s.candidateLoop()
		case RoleLeader:
			s.leaderLoop()
		}
	}
}

// applyTermRule is the universal term rule (spec.md §4.5): any message
// carrying a term greater than currentTerm forces an immediate,
// persisted term bump and a step-down to Follower, before anything else
// about that message is processed.
func (s *Server) applyTermRule(term uint64) {
	if term <= s.currentTerm {
		return
	}
	s.currentTerm = term
	s.votedFor = ""
	s.hasVoted = false
	if err := s.persistTerm(); err != nil {
		s.fatal(err)
		return
	}
	if s.role.Get() != RoleFollower {
		s.role.Set(RoleFollower)
		s.fireRoleChange(RoleFollower)
	}
}

func (s *Server) candidateLogUpToDate(lastIndex, lastTerm uint64) bool {
	myIndex, err := lastLogIndex(s.logStore)
	if err != nil {
		s.fatal(err)
		return false
	}
	myTerm, err := lastLogTerm(s.logStore)
	if err != nil {
		s.fatal(err)
		return false
	}
	if lastTerm != myTerm {
		return lastTerm > myTerm
	}
	return lastIndex >= myIndex
}

func (s *Server) handleRequestVote(from string, msg RequestVote) {
	s.applyTermRule(msg.Term)

	resp := RequestVoteResponse{Type: MessageRequestVoteResponse, Term: s.currentTerm}
	switch {
	case msg.Term < s.currentTerm:
		resp.VoteGranted = false
	case s.hasVoted && s.votedFor != msg.CandidateID:
		resp.VoteGranted = false
	default:
		if s.candidateLogUpToDate(msg.LastLogIndex, msg.LastLogTerm) {
			s.votedFor = msg.CandidateID
			s.hasVoted = true
			if err := s.persistVote(); err != nil {
				s.fatal(err)
				return
			}
			resp.VoteGranted = true
		}
	}

	s.logger.Debug("request_vote",
		zap.String("from", from), zap.Uint64("term", msg.Term), zap.Bool("granted", resp.VoteGranted))
	s.send(from, resp)
	if resp.VoteGranted {
		s.electionTimer.ResetTo(s.cfg.electionTimeout())
	}
}

// handleAppendEntries implements the follower side of replication
// (spec.md §4.3/§4.5), including the log-consistency check, conflicting
// suffix truncation, and the universal commit/apply rule. It also folds
// in the "recognize a legitimate current-term leader" step-down rule
// that Raft applies to both Candidates and Leaders, so every caller can
// simply check s.role.Get() afterward to see whether it must exit its
// role loop.
func (s *Server) handleAppendEntries(from string, msg AppendEntries) {
	s.applyTermRule(msg.Term)

	if msg.Term < s.currentTerm {
		s.send(from, AppendEntriesResponse{
			Type: MessageAppendEntriesResponse, Term: s.currentTerm, Success: false, RequestID: msg.RequestID,
		})
		return
	}

	if s.role.Get() != RoleFollower {
		s.role.Set(RoleFollower)
		s.fireRoleChange(RoleFollower)
	}
	s.electionTimer.ResetTo(s.cfg.electionTimeout())
	s.leaderHint = msg.LeaderID
	s.leaderMirror.Set(msg.LeaderID)
	s.notifyLeaderChange()

	resp := AppendEntriesResponse{Type: MessageAppendEntriesResponse, Term: s.currentTerm, RequestID: msg.RequestID}

	if msg.PrevLogIndex > 0 {
		entry, err := s.logStore.Get(msg.PrevLogIndex)
		switch {
		case errors.Is(err, ErrNotFound):
			resp.Success = false
			s.send(from, resp)
			return
		case err != nil:
			s.fatal(err)
			return
		case entry.Term != msg.PrevLogTerm:
			// Reject path is a pure no-mutation response: the follower's
			// log is left untouched until a future AppendEntries finds a
			// matching PrevLogIndex/PrevLogTerm to truncate from.
			resp.Success = false
			s.send(from, resp)
			return
		}
	}

	// The log-consistency check above succeeded, so everything after
	// PrevLogIndex is either identical to what the leader holds or must
	// be discarded, whether or not this message carries new entries to
	// append in its place.
	if err := s.logStore.EraseSuffixFrom(msg.PrevLogIndex); err != nil {
		s.fatal(err)
		return
	}
	if len(msg.Entries) > 0 {
		if err := s.logStore.AppendMany(msg.Entries); err != nil {
			s.fatal(err)
			return
		}
	}

	lastIndex, err := lastLogIndex(s.logStore)
	if err != nil {
		s.fatal(err)
		return
	}
	lastTerm, err := lastLogTerm(s.logStore)
	if err != nil {
		s.fatal(err)
		return
	}

	if msg.LeaderCommit > s.commitIndex {
		newCommit := msg.LeaderCommit
		if lastIndex < newCommit {
			newCommit = lastIndex
		}
		s.advanceCommitIndex(newCommit)
	}

	resp.Success = true
	resp.LastLogIndex = lastIndex
	resp.LastLogTerm = lastTerm
	s.send(from, resp)
}

// advanceCommitIndex is the universal commit/apply rule: commitIndex
// only ever moves forward, and every entry between the old and new
// commitIndex is applied to the state machine in order, exactly once.
func (s *Server) advanceCommitIndex(newCommit uint64) {
	if newCommit <= s.commitIndex {
		return
	}
	s.commitIndex = newCommit
	for s.lastApplied < s.commitIndex {
		idx := s.lastApplied + 1
		entry, err := s.logStore.Get(idx)
		if err != nil {
			s.fatal(err)
			return
		}
		s.sm.Apply(entry.Command)
		s.lastApplied = idx
		if waiter, ok := s.pending[idx]; ok {
			waiter <- nil
			delete(s.pending, idx)
		}
	}
}

// depose resolves every outstanding proposal with cause, used whenever
// this server stops being Leader (or stops outright) before a proposal
// committed.
func (s *Server) depose(cause error) {
	for idx, waiter := range s.pending {
		waiter <- cause
		delete(s.pending, idx)
	}
}

func (s *Server) redirectError() error {
	if s.leaderHint == "" {
		return ErrUnknownLeader
	}
	return ErrNotLeader
}

// followerLoop is spec.md §4.5's Follower role: wait for either an
// election timeout (becoming Candidate) or a message.
func (s *Server) followerLoop() {
	s.electionTimer.ResetTo(s.cfg.electionTimeout())
	defer s.electionTimer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.electionTimer.C():
			s.logger.Debug("election timeout, becoming candidate", zap.Uint64("term", s.currentTerm))
			s.role.Set(RoleCandidate)
			s.fireRoleChange(RoleCandidate)
			return
		case env := <-s.appendEntriesChan:
			s.handleAppendEntries(env.from, env.msg)
		case env := <-s.requestVoteChan:
			s.handleRequestVote(env.from, env.msg)
		case <-s.requestVoteRespChan:
			// Stale response from a candidacy this node no longer runs.
		case <-s.appendEntriesRespChan:
			// Followers never issue AppendEntries, so never expect this.
		case req := <-s.commandChan:
			req.result <- s.redirectError()
		}
	}
}

// candidateLoop is spec.md §4.5's Candidate role: bump the term, vote
// for self, broadcast RequestVote, and wait for either a majority of
// votes (becoming Leader), a message proving a legitimate leader or
// higher term exists (stepping down), or an election timeout (retrying
// with a fresh term via the outer loop re-entering candidateLoop).
func (s *Server) candidateLoop() {
	s.currentTerm++
	s.votedFor = s.id
	s.hasVoted = true
	if err := s.persistTerm(); err != nil {
		s.fatal(err)
		return
	}
	if err := s.persistVote(); err != nil {
		s.fatal(err)
		return
	}

	lastIndex, err := lastLogIndex(s.logStore)
	if err != nil {
		s.fatal(err)
		return
	}
	lastTerm, err := lastLogTerm(s.logStore)
	if err != nil {
		s.fatal(err)
		return
	}

	s.logger.Info("starting election", zap.Uint64("term", s.currentTerm))
	votes := map[string]bool{s.id: true}
	quorum := quorumSize(len(s.peers))

	req := RequestVote{
		Type: MessageRequestVote, Term: s.currentTerm, CandidateID: s.id,
		LastLogIndex: lastIndex, LastLogTerm: lastTerm,
	}
	if err := s.transport.Broadcast(s.peers, req); err != nil {
		s.logger.Debug("broadcast request_vote failed", zap.Error(err))
	}

	s.electionTimer.ResetTo(s.cfg.electionTimeout())
	defer s.electionTimer.Stop()

	if len(votes) >= quorum {
		// Single-node cluster: self-vote alone is already a majority.
		s.becomeLeader()
		return
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.electionTimer.C():
			s.logger.Debug("election timed out with no winner, retrying", zap.Uint64("term", s.currentTerm))
			return
		case env := <-s.requestVoteRespChan:
			if env.msg.Term > s.currentTerm {
				s.applyTermRule(env.msg.Term)
				return
			}
			if env.msg.Term < s.currentTerm || !env.msg.VoteGranted {
				continue
			}
			votes[env.from] = true
			if len(votes) >= quorum {
				s.becomeLeader()
				return
			}
		case env := <-s.requestVoteChan:
			s.handleRequestVote(env.from, env.msg)
			if s.role.Get() != RoleCandidate {
				return
			}
		case env := <-s.appendEntriesChan:
			s.handleAppendEntries(env.from, env.msg)
			if s.role.Get() != RoleCandidate {
				return
			}
		case <-s.appendEntriesRespChan:
			// Stray response to a round from a previous leadership attempt.
		case req := <-s.commandChan:
			req.result <- s.redirectError()
		}
	}
}

func (s *Server) becomeLeader() {
	s.role.Set(RoleLeader)
	s.leaderHint = s.id
	s.leaderMirror.Set(s.id)
	s.notifyLeaderChange()
	s.fireRoleChange(RoleLeader)
	s.logger.Info("became leader", zap.Uint64("term", s.currentTerm))
}

// leaderLoop is spec.md §4.5's Leader role: periodic heartbeats,
// on-demand replication of proposed commands, next_index/match_index
// bookkeeping per follower, majority-based commit advancement, and a
// step-down if a majority of followers haven't been heard from within
// the step-down interval.
func (s *Server) leaderLoop() {
	lastIndex, err := lastLogIndex(s.logStore)
	if err != nil {
		s.fatal(err)
		return
	}

	others := exceptSelf(s.peers, s.id)
	nextIndex := make(map[string]uint64, len(others))
	matchIndex := make(map[string]uint64, len(others))
	lastSentID := make(map[string]uint64, len(others))
	contacted := make(map[string]bool, len(others))
	var requestSeq uint64

	for _, p := range others {
		nextIndex[p] = lastIndex + 1
		matchIndex[p] = 0
	}

	s.heartbeatTimer.Reset()
	defer s.heartbeatTimer.Stop()
	s.stepDownTimer.Reset()
	defer s.stepDownTimer.Stop()
	defer s.depose(ErrDeposed)

	replicateAll := func() {
		requestSeq++
		for _, p := range others {
			s.replicateTo(p, nextIndex, lastSentID, requestSeq)
		}
	}
	replicateAll()

	if len(others) == 0 {
		// Single-node cluster: nothing to wait on for step-down liveness.
		s.stepDownTimer.Stop()
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.heartbeatTimer.C():
			replicateAll()
		case <-s.stepDownTimer.C():
			s.logger.Warn("no majority contact within step-down interval, stepping down", zap.Uint64("term", s.currentTerm))
			s.role.Set(RoleFollower)
			s.fireRoleChange(RoleFollower)
			return
		case env := <-s.appendEntriesRespChan:
			if env.msg.Term > s.currentTerm {
				s.applyTermRule(env.msg.Term)
				return
			}
			if _, known := nextIndex[env.from]; !known {
				continue
			}
			if lastSentID[env.from] == env.msg.RequestID {
				contacted[env.from] = true
				if 1+len(contacted) >= quorumSize(len(s.peers)) {
					s.stepDownTimer.Reset()
					contacted = make(map[string]bool, len(others))
				}
			}
			if env.msg.Success {
				if env.msg.LastLogIndex > matchIndex[env.from] {
					matchIndex[env.from] = env.msg.LastLogIndex
				}
				nextIndex[env.from] = env.msg.LastLogIndex + 1
				s.maybeAdvanceCommitIndex(matchIndex)
			} else {
				if nextIndex[env.from] > 1 {
					nextIndex[env.from]--
				}
				requestSeq++
				s.replicateTo(env.from, nextIndex, lastSentID, requestSeq)
			}
		case env := <-s.requestVoteChan:
			s.handleRequestVote(env.from, env.msg)
			if s.role.Get() != RoleLeader {
				return
			}
		case env := <-s.appendEntriesChan:
			s.handleAppendEntries(env.from, env.msg)
			if s.role.Get() != RoleLeader {
				return
			}
		case <-s.requestVoteRespChan:
			// Stray response to a vote round from a previous term.
		case req := <-s.commandChan:
			s.acceptCommand(req, nextIndex, lastSentID, &requestSeq, others, matchIndex)
		}
	}
}

func (s *Server) acceptCommand(req commandEnvelope, nextIndex, lastSentID map[string]uint64, requestSeq *uint64, others []string, matchIndex map[string]uint64) {
	entry := LogEntry{Term: s.currentTerm, Command: req.command}
	if err := s.logStore.Append(entry); err != nil {
		s.fatal(err)
		req.result <- err
		return
	}
	idx, err := lastLogIndex(s.logStore)
	if err != nil {
		s.fatal(err)
		req.result <- err
		return
	}
	s.pending[idx] = req.result

	if len(others) == 0 {
		s.maybeAdvanceCommitIndex(matchIndex)
		return
	}
	*requestSeq++
	for _, p := range others {
		s.replicateTo(p, nextIndex, lastSentID, *requestSeq)
	}
}

// replicateTo sends peer everything from nextIndex[peer] onward, capped
// at cfg.AppendEntriesMaxBatch entries (pyraft's APPEND_ENTRIES_MAX_NUM).
func (s *Server) replicateTo(peer string, nextIndex, lastSentID map[string]uint64, requestID uint64) {
	lastSentID[peer] = requestID

	ni := nextIndex[peer]
	if ni == 0 {
		ni = 1
	}
	prevIndex := ni - 1

	var prevTerm uint64
	if prevIndex > 0 {
		entry, err := s.logStore.Get(prevIndex)
		if err != nil && !errors.Is(err, ErrNotFound) {
			s.fatal(err)
			return
		}
		if err == nil {
			prevTerm = entry.Term
		}
	}

	lastIndex, err := lastLogIndex(s.logStore)
	if err != nil {
		s.fatal(err)
		return
	}

	var entries []LogEntry
	if lastIndex >= ni {
		hi := lastIndex
		if batch := uint64(s.cfg.AppendEntriesMaxBatch); batch > 0 && hi > ni+batch-1 {
			hi = ni + batch - 1
		}
		entries, err = s.logStore.Range(ni, hi)
		if err != nil {
			s.fatal(err)
			return
		}
	}

	s.send(peer, AppendEntries{
		Type:         MessageAppendEntries,
		Term:         s.currentTerm,
		LeaderID:     s.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: s.commitIndex,
		RequestID:    requestID,
	})
}

// maybeAdvanceCommitIndex scans candidate commit indices from the log's
// tail backward, committing the highest index N for which N's entry is
// from the current term and a true majority (the leader plus every peer
// whose match_index >= N) has replicated it. Scanning from the current
// term only is required for Raft safety: an entry from an earlier term
// can be committed only as a side effect of committing a later
// current-term entry, never by vote count alone.
func (s *Server) maybeAdvanceCommitIndex(matchIndex map[string]uint64) {
	lastIndex, err := lastLogIndex(s.logStore)
	if err != nil {
		s.fatal(err)
		return
	}
	quorum := quorumSize(len(s.peers))
	for n := lastIndex; n > s.commitIndex; n-- {
		entry, err := s.logStore.Get(n)
		if err != nil {
			s.fatal(err)
			return
		}
		if entry.Term != s.currentTerm {
			continue
		}
		count := 1
		for _, mi := range matchIndex {
			if mi >= n {
				count++
			}
		}
		if count >= quorum {
			s.advanceCommitIndex(n)
			return
		}
	}
}
