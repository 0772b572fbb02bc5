package raft_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/raftkv/raft"
	"github.com/raftkv/raft/storage"
	"github.com/raftkv/raft/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fastConfig shrinks every interval so elections and heartbeats happen
// fast enough for a test. It keeps production's election spread and batch
// cap but steps down after 3 missed heartbeats instead of 5.
func fastConfig() raft.Config {
	cfg := raft.DefaultConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.StepDownMissedHeartbeats = 3
	cfg.ElectionIntervalSpread = 3
	cfg.AppendEntriesMaxBatch = 3
	return cfg
}

type testNode struct {
	id        string
	server    *raft.Server
	transport *transport.LoopbackTransport
	sm        *raft.StateMachine
}

// newTestCluster wires n nodes together over a single in-process
// LoopbackTransport network, each backed by its own in-memory sqlite
// database, mirroring bernerdschaefer-raft's MakePeers/NewLocalPeer test
// harness generalised to the message-passing Transport design.
func newTestCluster(t *testing.T, n int) []*testNode {
	t.Helper()
	network := fmt.Sprintf("cluster-%s", t.Name())

	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("node-%d", i)
	}

	cfg := fastConfig()
	nodes := make([]*testNode, n)
	for i, id := range ids {
		db, err := storage.Open(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		stateStore, err := storage.NewStateStore(db, id)
		require.NoError(t, err)
		logStore, err := storage.NewLogStore(db, id)
		require.NoError(t, err)

		sm := raft.NewStateMachine(nil)
		lt := transport.NewLoopbackTransport(network, id)
		srv := raft.NewServer(id, ids, cfg, lt, stateStore, logStore, sm, nil)

		nodes[i] = &testNode{id: id, server: srv, transport: lt, sm: sm}
	}
	return nodes
}

func startCluster(t *testing.T, nodes []*testNode) {
	t.Helper()
	for _, n := range nodes {
		require.NoError(t, n.server.Start())
	}
	t.Cleanup(func() {
		for _, n := range nodes {
			n.server.Stop()
		}
	})
}

func waitForLeader(t *testing.T, nodes []*testNode, timeout time.Duration) *testNode {
	t.Helper()
	deadline := time.After(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, n := range nodes {
			if n.server.State() == raft.RoleLeader {
				return n
			}
		}
		select {
		case <-ticker.C:
		case <-deadline:
			t.Fatal("timed out waiting for a leader to be elected")
		}
	}
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSingleNodeClusterBecomesLeaderImmediately(t *testing.T) {
	nodes := newTestCluster(t, 1)
	startCluster(t, nodes)

	leader := waitForLeader(t, nodes, time.Second)
	require.Equal(t, "node-0", leader.id)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, leader.server.Set(ctx, "x", "1"))

	v, ok := leader.sm.Get("x")
	require.True(t, ok)
	require.Equal(t, "1", v)

	readCtx, readCancel := context.WithTimeout(context.Background(), time.Second)
	defer readCancel()
	v, ok, err := leader.server.Get(readCtx, "x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)
}

func TestWaitForLeaderReturnsOnceElected(t *testing.T) {
	nodes := newTestCluster(t, 1)
	startCluster(t, nodes)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	leaderID, err := nodes[0].server.WaitForLeader(ctx)
	require.NoError(t, err)
	require.Equal(t, "node-0", leaderID)

	require.NoError(t, nodes[0].server.WaitUntilLeader(ctx, "node-0"))
}

func TestThreeNodeClusterElectsExactlyOneLeader(t *testing.T) {
	nodes := newTestCluster(t, 3)
	startCluster(t, nodes)

	waitForLeader(t, nodes, 2*time.Second)
	time.Sleep(100 * time.Millisecond) // let any split vote resolve

	leaders := 0
	for _, n := range nodes {
		if n.server.State() == raft.RoleLeader {
			leaders++
		}
	}
	require.Equal(t, 1, leaders)
}

func TestThreeNodeClusterReplicatesCommand(t *testing.T) {
	nodes := newTestCluster(t, 3)
	startCluster(t, nodes)

	leader := waitForLeader(t, nodes, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, leader.server.Set(ctx, "key", "value"))

	require.Eventually(t, func() bool {
		for _, n := range nodes {
			v, ok := n.sm.Get("key")
			if !ok || v != "value" {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "command did not replicate to all nodes")
}

func TestNonLeaderRejectsCommands(t *testing.T) {
	nodes := newTestCluster(t, 3)
	startCluster(t, nodes)

	leader := waitForLeader(t, nodes, 2*time.Second)

	var follower *testNode
	for _, n := range nodes {
		if n != leader {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := follower.server.Execute(ctx, map[string]interface{}{"k": "v"})
	require.Error(t, err)
	require.True(t, err == raft.ErrNotLeader || err == raft.ErrUnknownLeader)
}

func TestLeaderStepsDownOnHigherTerm(t *testing.T) {
	nodes := newTestCluster(t, 3)
	startCluster(t, nodes)

	leader := waitForLeader(t, nodes, 2*time.Second)

	// A RequestVote for a much higher term must force an immediate
	// step-down and term adoption, per the universal term rule.
	vote := raft.RequestVote{
		Type: raft.MessageRequestVote, Term: leader.server.Term() + 100,
		CandidateID: "outsider", LastLogIndex: 0, LastLogTerm: 0,
	}
	outsider := transport.NewLoopbackTransport(fmt.Sprintf("cluster-%s", t.Name()), "outsider")
	defer outsider.Close()
	require.NoError(t, outsider.Send(leader.id, vote))

	require.Eventually(t, func() bool {
		return leader.server.State() != raft.RoleLeader
	}, time.Second, 5*time.Millisecond, "leader did not step down for a higher term")

	require.Eventually(t, func() bool {
		return leader.server.Term() >= vote.Term
	}, time.Second, 5*time.Millisecond, "leader did not adopt the higher term")
}

func TestFailedCommandWhenClusterLosesQuorum(t *testing.T) {
	nodes := newTestCluster(t, 3)
	startCluster(t, nodes)

	leader := waitForLeader(t, nodes, 2*time.Second)

	for _, n := range nodes {
		if n != leader {
			n.server.Stop()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := leader.server.Set(ctx, "k", "v")
	require.Error(t, err)
}

func TestRoleChangeListenerFires(t *testing.T) {
	nodes := newTestCluster(t, 1)

	seen := make(chan raft.Role, 8)
	nodes[0].server.OnRoleChange(func(role raft.Role) {
		seen <- role
	})
	startCluster(t, nodes)

	deadline := time.After(time.Second)
	for {
		select {
		case role := <-seen:
			if role == raft.RoleLeader {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for a leader role-change notification")
		}
	}
}
