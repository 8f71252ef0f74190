package clientapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/konstantsiy/clustercore/internal/statemachine"
)

type QueueEnqueueRequest struct {
	QueueName string `json:"queueName"`
	Payload   []byte `json:"payload"`
}

type QueueEnqueueResponse struct {
	MessageID string `json:"messageId"`
}

type QueueDequeueRequest struct {
	QueueName         string `json:"queueName"`
	ConsumerID        string `json:"consumerId"`
	VisibilityTimeout int    `json:"visibilityTimeoutMs"`
}

type QueueDequeueResponse struct {
	MessageID string `json:"messageId,omitempty"`
	Payload   []byte `json:"payload,omitempty"`
	None      bool   `json:"none,omitempty"`
}

type QueueAckRequest struct {
	MessageID string `json:"messageId"`
}

type QueueAckResponse struct {
	Status string `json:"status"` // ok | unknown
}

// forwardToPrimary relays req to queueName's consistent-hash primary
// when this node isn't it, per spec §4.4's producer/consumer path. A
// request that already took a hop (ring or leader) skips this: its
// own propose call reaches the leader directly, so retracing the ring
// hop here would just bounce it back where it came from.
func (s *Server) forwardToPrimary(r *http.Request, queueName, path string, req, resp any) (handled bool, err error) {
	if isForwarded(r) {
		return false, nil
	}
	primary, ok := s.ring.Primary(queueName)
	if !ok || primary == s.selfID {
		return false, nil
	}
	addr, ok := s.addresses[primary]
	if !ok {
		return false, nil
	}
	return true, s.client.Post(primary, addr, markForwarded(path), req, resp)
}

func (s *Server) handleQueueEnqueue(w http.ResponseWriter, r *http.Request) {
	var req QueueEnqueueRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resp QueueEnqueueResponse
	if handled, err := s.forwardToPrimary(r, req.QueueName, PathQueueEnqueue, req, &resp); handled {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, resp)
		return
	}

	messageID := uuid.NewString()
	cmd := statemachine.Command{
		Kind:       statemachine.QueueEnqueue,
		QueueName:  req.QueueName,
		MessageID:  messageID,
		Payload:    req.Payload,
		ProducedAt: nowUTC(),
	}

	var result statemachine.Result
	if err := s.propose(PathQueueEnqueue, cmd, req, &result); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, QueueEnqueueResponse{MessageID: messageID})
}

func (s *Server) handleQueueDequeue(w http.ResponseWriter, r *http.Request) {
	var req QueueDequeueRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resp QueueDequeueResponse
	if handled, err := s.forwardToPrimary(r, req.QueueName, PathQueueDequeue, req, &resp); handled {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, resp)
		return
	}

	msg, ok := s.machine.PendingQueueHead(req.QueueName)
	if !ok {
		writeJSON(w, QueueDequeueResponse{None: true})
		return
	}

	visibility := time.Duration(req.VisibilityTimeout) * time.Millisecond
	if visibility <= 0 {
		visibility = 30 * time.Second
	}

	cmd := statemachine.Command{
		Kind:       statemachine.QueueReserve,
		MessageID:  msg.ID,
		ConsumerID: req.ConsumerID,
		VisibleAt:  nowUTC().Add(visibility),
	}

	var result statemachine.Result
	if err := s.propose(PathQueueDequeue, cmd, req, &result); err != nil {
		writeError(w, err)
		return
	}
	if !result.OK {
		writeJSON(w, QueueDequeueResponse{None: true})
		return
	}
	writeJSON(w, QueueDequeueResponse{MessageID: msg.ID, Payload: msg.Payload})
}

func (s *Server) handleQueueAck(w http.ResponseWriter, r *http.Request) {
	var req QueueAckRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cmd := statemachine.Command{Kind: statemachine.QueueAck, MessageID: req.MessageID}

	var result statemachine.Result
	if err := s.propose(PathQueueAck, cmd, req, &result); err != nil {
		writeJSON(w, QueueAckResponse{Status: "unknown"})
		return
	}
	writeJSON(w, QueueAckResponse{Status: "ok"})
}
