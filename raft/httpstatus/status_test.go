package httpstatus_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/raftkv/raft"
	"github.com/raftkv/raft/httpstatus"
	"github.com/raftkv/raft/storage"
	"github.com/raftkv/raft/transport"
	"github.com/stretchr/testify/require"
)

func TestStatusEndpointReportsLeader(t *testing.T) {
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	stateStore, err := storage.NewStateStore(db, "solo")
	require.NoError(t, err)
	logStore, err := storage.NewLogStore(db, "solo")
	require.NoError(t, err)

	sm := raft.NewStateMachine(nil)
	lt := transport.NewLoopbackTransport("httpstatus-test", "solo")
	srv := raft.NewServer("solo", []string{"solo"}, raft.DefaultConfig(), lt, stateStore, logStore, sm, nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	// DefaultConfig's election timeout lies in [1.5s, 4.5s).
	require.Eventually(t, func() bool { return srv.State() == raft.RoleLeader }, 5*time.Second, time.Millisecond)

	mux := http.NewServeMux()
	httpstatus.NewHandler("solo", srv).Install(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + httpstatus.StatusPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	var status httpstatus.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "solo", status.ID)
	require.Equal(t, raft.RoleLeader, status.Role)
}

func TestGetEndpointMissingKey(t *testing.T) {
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	stateStore, err := storage.NewStateStore(db, "solo2")
	require.NoError(t, err)
	logStore, err := storage.NewLogStore(db, "solo2")
	require.NoError(t, err)
	sm := raft.NewStateMachine(nil)
	lt := transport.NewLoopbackTransport("httpstatus-test-2", "solo2")
	srv := raft.NewServer("solo2", []string{"solo2"}, raft.DefaultConfig(), lt, stateStore, logStore, sm, nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	mux := http.NewServeMux()
	httpstatus.NewHandler("solo2", srv).Install(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + httpstatus.GetPath + "?key=missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
