package clientapi

import (
	"net/http"
	"time"

	"github.com/konstantsiy/clustercore/internal/lockservice"
	"github.com/konstantsiy/clustercore/internal/statemachine"
)

type LockAcquireRequest struct {
	Resource  string `json:"resource"`
	ClientID  string `json:"clientId"`
	Mode      string `json:"mode"`
	TimeoutMs int    `json:"timeoutMs"`
}

type LockAcquireResponse struct {
	Status string `json:"status"` // granted | denied | aborted
	Reason string `json:"reason,omitempty"`
}

type LockReleaseRequest struct {
	Resource string `json:"resource"`
	ClientID string `json:"clientId"`
}

type LockReleaseResponse struct {
	Status string `json:"status"` // ok | notHolder
}

func (s *Server) handleLockAcquire(w http.ResponseWriter, r *http.Request) {
	var req LockAcquireRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	enqueuedAt := nowUTC()
	cmd := statemachine.Command{
		Kind:       statemachine.LockAcquire,
		Resource:   req.Resource,
		ClientID:   req.ClientID,
		Mode:       req.Mode,
		EnqueuedAt: enqueuedAt,
	}

	var result statemachine.Result
	if err := s.propose(PathLockAcquire, cmd, req, &result); err != nil {
		writeError(w, err)
		return
	}

	if result.Granted {
		writeJSON(w, LockAcquireResponse{Status: "granted"})
		return
	}

	// Queued on this node: wait for the grant, the cycle-detection
	// abort, or the client's own timeout, whichever comes first.
	deadline := time.Duration(req.TimeoutMs) * time.Millisecond
	if deadline <= 0 {
		deadline = time.Second
	}

	outcome, ok := s.awaitLockOutcome(req.Resource, req.ClientID, deadline)
	if !ok {
		s.cancelQueuedAcquire(req.Resource, req.ClientID)
		writeJSON(w, LockAcquireResponse{Status: "denied", Reason: "timeout"})
		return
	}
	if outcome.Aborted {
		writeJSON(w, LockAcquireResponse{Status: "aborted", Reason: "deadlock"})
		return
	}
	writeJSON(w, LockAcquireResponse{Status: "granted"})
}

func (s *Server) awaitLockOutcome(resource, clientID string, timeout time.Duration) (lockservice.Outcome, bool) {
	ch, ok := s.machine.LockChannel(resource, clientID)
	if !ok {
		return lockservice.Outcome{Granted: true}, true
	}
	select {
	case outcome := <-ch:
		return outcome, true
	case <-time.After(timeout):
		return lockservice.Outcome{}, false
	}
}

func (s *Server) cancelQueuedAcquire(resource, clientID string) {
	cmd := statemachine.Command{Kind: statemachine.LockRelease, Resource: resource, ClientID: clientID}
	var result statemachine.Result
	_ = s.propose(PathLockRelease, cmd, LockReleaseRequest{Resource: resource, ClientID: clientID}, &result)
}

func (s *Server) handleLockRelease(w http.ResponseWriter, r *http.Request) {
	var req LockReleaseRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cmd := statemachine.Command{Kind: statemachine.LockRelease, Resource: req.Resource, ClientID: req.ClientID}

	var result statemachine.Result
	if err := s.propose(PathLockRelease, cmd, req, &result); err != nil {
		writeJSON(w, LockReleaseResponse{Status: "notHolder"})
		return
	}
	writeJSON(w, LockReleaseResponse{Status: "ok"})
}
