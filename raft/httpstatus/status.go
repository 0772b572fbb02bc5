// Package httpstatus adapts bernerdschaefer-raft's http subpackage (a
// synchronous JSON-RPC facade over Peer.AppendEntries/RequestVote) into a
// read-only introspection endpoint for the message-passing Server: the
// transport for consensus traffic is UDP (spec.md §6), so HTTP no longer
// carries RPCs, only status for operators and health checks.
package httpstatus

import (
	"encoding/json"
	"net/http"

	"github.com/raftkv/raft"
)

// Status is the JSON body served at StatusPath.
type Status struct {
	ID     string    `json:"id"`
	Role   raft.Role `json:"role"`
	Term   uint64    `json:"term"`
	Leader string    `json:"leader"`
}

const (
	StatusPath = "/status"
	GetPath    = "/get"
)

// Handler serves /status (role, term, leader) and /get?key=... (a direct,
// non-consensus read of the local state machine) for a single Server,
// mirroring rafthttp.NewServer's shape without reintroducing synchronous
// RPC over HTTP.
type Handler struct {
	id     string
	server *raft.Server
}

// NewHandler builds an http.Handler exposing read-only status for server.
func NewHandler(id string, server *raft.Server) *Handler {
	return &Handler{id: id, server: server}
}

// Install registers this handler's routes on mux, mirroring
// bernerdschaefer-raft's rafthttp.Server.Install(mux).
func (h *Handler) Install(mux *http.ServeMux) {
	mux.HandleFunc(StatusPath, h.handleStatus)
	mux.HandleFunc(GetPath, h.handleGet)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{
		ID:     h.id,
		Role:   h.server.State(),
		Term:   h.server.Term(),
		Leader: h.server.Leader(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key parameter", http.StatusBadRequest)
		return
	}
	value, ok, err := h.server.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"key": key, "value": value})
}
