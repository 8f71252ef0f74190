// Package clientapi exposes the client RPC surface of spec §6 over
// HTTP, grounded on the teacher's http_handler.go route-registration
// pattern. Non-leader nodes forward mutating calls to the current
// leader using the same transport client used for Raft RPCs.
package clientapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/konstantsiy/clustercore/internal/clustererr"
	"github.com/konstantsiy/clustercore/internal/queueservice"
	"github.com/konstantsiy/clustercore/internal/raft"
	"github.com/konstantsiy/clustercore/internal/statemachine"
)

const (
	PathLockAcquire  = "/client/lock/acquire"
	PathLockRelease  = "/client/lock/release"
	PathQueueEnqueue = "/client/queue/enqueue"
	PathQueueDequeue = "/client/queue/dequeue"
	PathQueueAck     = "/client/queue/ack"
	PathCacheGet     = "/client/cache/get"
	PathCachePut     = "/client/cache/put"
	PathClusterStatus = "/client/cluster/status"
)

// forwarder is the subset of transport.Client's capability Server
// needs to relay a request to another node's client API.
type forwarder interface {
	Post(peerID, addr, path string, req, resp any) error
}

// Server implements the client RPC surface against a single node's
// raft.Node and statemachine.Machine.
type Server struct {
	selfID    string
	node      *raft.Node
	machine   *statemachine.Machine
	ring      *queueservice.Ring
	addresses map[string]string
	client    forwarder
}

func NewServer(selfID string, node *raft.Node, machine *statemachine.Machine, ring *queueservice.Ring, addresses map[string]string, client forwarder) *Server {
	return &Server{selfID: selfID, node: node, machine: machine, ring: ring, addresses: addresses, client: client}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(PathLockAcquire, s.handleLockAcquire)
	mux.HandleFunc(PathLockRelease, s.handleLockRelease)
	mux.HandleFunc(PathQueueEnqueue, s.handleQueueEnqueue)
	mux.HandleFunc(PathQueueDequeue, s.handleQueueDequeue)
	mux.HandleFunc(PathQueueAck, s.handleQueueAck)
	mux.HandleFunc(PathCacheGet, s.handleCacheGet)
	mux.HandleFunc(PathCachePut, s.handleCachePut)
	mux.HandleFunc(PathClusterStatus, s.handleClusterStatus)
}

// propose submits cmd through this node's raft.Node, forwarding the
// original HTTP request body verbatim to the current leader's same
// route when this node is not leader, matching spec §6's "non-leader
// nodes transparently forward mutating requests" contract.
func (s *Server) propose(path string, cmd statemachine.Command, body any, resp any) error {
	data, err := statemachine.Encode(cmd)
	if err != nil {
		return err
	}

	result, err := s.node.Propose(data)
	if err == nil {
		return json.Unmarshal(result, resp)
	}

	var notLeader *clustererr.NotLeaderError
	if !isNotLeaderError(err, &notLeader) {
		return err
	}
	if notLeader.LeaderHint == "" {
		return clustererr.ErrLeaderUnknown
	}
	addr, ok := s.addresses[notLeader.LeaderHint]
	if !ok {
		return clustererr.ErrLeaderUnknown
	}
	return s.client.Post(notLeader.LeaderHint, addr, markForwarded(path), body, resp)
}

// forwardedQueryParam tags a request that already took one hop within
// the cluster (a ring-primary handoff or a leader handoff), so the
// handler it lands on skips any further redundant hop instead of
// retracing one: without it, a queue whose ring-primary isn't the
// Raft leader bounces a request between the two forever.
const forwardedQueryParam = "forwarded"

func markForwarded(path string) string {
	return path + "?" + forwardedQueryParam + "=1"
}

func isForwarded(r *http.Request) bool {
	return r.URL.Query().Get(forwardedQueryParam) == "1"
}

func isNotLeaderError(err error, target **clustererr.NotLeaderError) bool {
	nl, ok := err.(*clustererr.NotLeaderError)
	if ok {
		*target = nl
	}
	return ok
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch err {
	case clustererr.ErrLeaderUnknown:
		status = http.StatusServiceUnavailable
	case clustererr.ErrNotHolder, clustererr.ErrUnknownMessage, clustererr.ErrNotFound:
		status = http.StatusNotFound
	case clustererr.ErrTimeout:
		status = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), status)
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func nowUTC() time.Time { return time.Now().UTC() }
