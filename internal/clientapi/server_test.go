package clientapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/konstantsiy/clustercore/internal/cacheservice"
	"github.com/konstantsiy/clustercore/internal/lockservice"
	"github.com/konstantsiy/clustercore/internal/queueservice"
	"github.com/konstantsiy/clustercore/internal/raft"
	"github.com/konstantsiy/clustercore/internal/statemachine"
	"github.com/stretchr/testify/require"
)

// localTransport routes raft RPCs directly between in-process nodes,
// the same pattern internal/raft's own cluster tests use, needed here
// only to get a real elected leader to exercise Server against.
type localTransport struct {
	nodes map[string]*raft.Node
}

func (lt *localTransport) SendRequestVote(peerID string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	peer, ok := lt.nodes[peerID]
	if !ok {
		return nil, fmt.Errorf("unknown peer %s", peerID)
	}
	return peer.HandleRequestVote(req), nil
}

func (lt *localTransport) SendAppendEntries(peerID string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	peer, ok := lt.nodes[peerID]
	if !ok {
		return nil, fmt.Errorf("unknown peer %s", peerID)
	}
	return peer.HandleAppendEntries(req), nil
}

type noProber struct{}

func (noProber) Probe(string) []cacheservice.PeerState { return nil }

type noForwarder struct{}

func (noForwarder) Post(peerID, addr, path string, req, resp any) error {
	return fmt.Errorf("forwarding not exercised in this test")
}

func newLeaderServer(t *testing.T) (*Server, func()) {
	ids := []string{"n1", "n2", "n3"}
	transport := &localTransport{nodes: make(map[string]*raft.Node)}

	machines := make(map[string]*statemachine.Machine, len(ids))
	nodes := make(map[string]*raft.Node, len(ids))
	for _, id := range ids {
		m := statemachine.New(lockservice.NewTable(), queueservice.NewBroker(3, nil), cacheservice.NewDirectory(id, 100, noProber{}, nil))
		machines[id] = m

		node, err := raft.NewNode(id, ids, t.TempDir(), m, transport,
			raft.WithElectionTimeout(30*time.Millisecond, 60*time.Millisecond),
			raft.WithHeartbeatInterval(10*time.Millisecond),
		)
		require.NoError(t, err)
		nodes[id] = node
		transport.nodes[id] = node
	}

	for _, n := range nodes {
		n.Start()
	}

	var leaderID string
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for id, n := range nodes {
			if _, isLeader := n.State(); isLeader {
				leaderID = id
			}
		}
		if leaderID != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, leaderID, "expected a leader to be elected")

	addresses := map[string]string{}
	ring := queueservice.NewRing(ids)
	server := NewServer(leaderID, nodes[leaderID], machines[leaderID], ring, addresses, noForwarder{})

	cleanup := func() {
		for _, n := range nodes {
			n.Shutdown()
		}
	}
	return server, cleanup
}

func TestServer_LockAcquireGrantedImmediately(t *testing.T) {
	server, cleanup := newLeaderServer(t)
	defer cleanup()

	body, _ := json.Marshal(LockAcquireRequest{Resource: "doc1", ClientID: "a", Mode: string(lockservice.Exclusive), TimeoutMs: 500})
	req := httptest.NewRequest("POST", PathLockAcquire, bytes.NewReader(body))
	rec := httptest.NewRecorder()

	server.handleLockAcquire(rec, req)

	require.Equal(t, 200, rec.Code)
	var resp LockAcquireResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "granted", resp.Status)
}

func TestServer_CachePutThenGet(t *testing.T) {
	server, cleanup := newLeaderServer(t)
	defer cleanup()

	putBody, _ := json.Marshal(CachePutRequest{Key: "k1", Value: []byte("v1")})
	putReq := httptest.NewRequest("POST", PathCachePut, bytes.NewReader(putBody))
	putRec := httptest.NewRecorder()
	server.handleCachePut(putRec, putReq)
	require.Equal(t, 200, putRec.Code)

	getBody, _ := json.Marshal(CacheGetRequest{Key: "k1"})
	getReq := httptest.NewRequest("POST", PathCacheGet, bytes.NewReader(getBody))
	getRec := httptest.NewRecorder()
	server.handleCacheGet(getRec, getReq)

	var resp CacheGetResponse
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &resp))
	require.Equal(t, []byte("v1"), resp.Value)
}

func TestServer_QueueEnqueueThenDequeueThenAck(t *testing.T) {
	server, cleanup := newLeaderServer(t)
	defer cleanup()

	enqBody, _ := json.Marshal(QueueEnqueueRequest{QueueName: "orders", Payload: []byte("item")})
	enqReq := httptest.NewRequest("POST", PathQueueEnqueue, bytes.NewReader(enqBody))
	enqRec := httptest.NewRecorder()
	server.handleQueueEnqueue(enqRec, enqReq)
	require.Equal(t, 200, enqRec.Code)

	var enqResp QueueEnqueueResponse
	require.NoError(t, json.Unmarshal(enqRec.Body.Bytes(), &enqResp))
	require.NotEmpty(t, enqResp.MessageID)

	deqBody, _ := json.Marshal(QueueDequeueRequest{QueueName: "orders", ConsumerID: "c1"})
	deqReq := httptest.NewRequest("POST", PathQueueDequeue, bytes.NewReader(deqBody))
	deqRec := httptest.NewRecorder()
	server.handleQueueDequeue(deqRec, deqReq)
	require.Equal(t, 200, deqRec.Code)

	var deqResp QueueDequeueResponse
	require.NoError(t, json.Unmarshal(deqRec.Body.Bytes(), &deqResp))
	require.Equal(t, enqResp.MessageID, deqResp.MessageID)

	ackBody, _ := json.Marshal(QueueAckRequest{MessageID: deqResp.MessageID})
	ackReq := httptest.NewRequest("POST", PathQueueAck, bytes.NewReader(ackBody))
	ackRec := httptest.NewRecorder()
	server.handleQueueAck(ackRec, ackReq)
	require.Equal(t, 200, ackRec.Code)
}
