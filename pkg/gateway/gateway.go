package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/turnstile-io/turnstile/pkg/fsm"
)

// Status is the node-level view the gateway reports
// satisfied by raft.Node
type Status interface {
	IsLeader() bool
	GetLeader() string
	GetNodeID() uuid.UUID
	GetState() raft.RaftState
	GetClusterSize() int
	Stats() fsm.Stats
}

type Server struct {
	httpServer *http.Server
	status     Status
}

func NewServer(httpAddr string, status Status) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr: httpAddr,
		},
		status: status,
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/status", s.handleStatus)
	s.httpServer.Handler = mux

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP gateway: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type statusResponse struct {
	NodeID       string `json:"node_id"`
	State        string `json:"state"`
	IsLeader     bool   `json:"is_leader"`
	Leader       string `json:"leader"`
	ClusterSize  int    `json:"cluster_size"`
	HeldLocks    int    `json:"held_locks"`
	QueuedOwners int    `json:"queued_owners"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.status.Stats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		NodeID:       s.status.GetNodeID().String(),
		State:        s.status.GetState().String(),
		IsLeader:     s.status.IsLeader(),
		Leader:       s.status.GetLeader(),
		ClusterSize:  s.status.GetClusterSize(),
		HeldLocks:    stats.HeldLocks,
		QueuedOwners: stats.QueuedOwners,
	})
}
