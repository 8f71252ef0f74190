package background

import (
	"fmt"
	"testing"
	"time"

	"github.com/konstantsiy/clustercore/internal/cacheservice"
	"github.com/konstantsiy/clustercore/internal/lockservice"
	"github.com/konstantsiy/clustercore/internal/queueservice"
	"github.com/konstantsiy/clustercore/internal/raft"
	"github.com/konstantsiy/clustercore/internal/statemachine"
	"github.com/stretchr/testify/require"
)

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

// newLeaderForTest spins up a real 3-node cluster in-process and waits
// for a leader, returning that leader's node and the exact machine
// instance wired behind it, since scanOnce/sweepOnce read the machine
// they're given and propose through the node against that same one.
func newLeaderForTest(t *testing.T) (*raft.Node, *statemachine.Machine, func()) {
	ids := []string{"n1", "n2", "n3"}
	transport := &localTransport{nodes: make(map[string]*raft.Node)}

	machines := make(map[string]*statemachine.Machine, len(ids))
	nodes := make(map[string]*raft.Node, len(ids))

	for _, id := range ids {
		m := statemachine.New(lockservice.NewTable(), queueservice.NewBroker(5, nil), cacheservice.NewDirectory(id, 100, noProber{}, nil))
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
	require.NotEmpty(t, leaderID)

	cleanup := func() {
		for _, n := range nodes {
			n.Shutdown()
		}
	}
	return nodes[leaderID], machines[leaderID], cleanup
}

func TestDeadlockScanner_ProposesAbortForVictim(t *testing.T) {
	node, machine, cleanup := newLeaderForTest(t)
	defer cleanup()

	t0 := time.Now()
	mustApply(t, machine, statemachine.Command{Kind: statemachine.LockAcquire, Resource: "doc1", ClientID: "a", Mode: string(lockservice.Exclusive), EnqueuedAt: t0})
	mustApply(t, machine, statemachine.Command{Kind: statemachine.LockAcquire, Resource: "doc2", ClientID: "b", Mode: string(lockservice.Exclusive), EnqueuedAt: t0})
	mustApply(t, machine, statemachine.Command{Kind: statemachine.LockAcquire, Resource: "doc2", ClientID: "a", Mode: string(lockservice.Exclusive), EnqueuedAt: t0})
	mustApply(t, machine, statemachine.Command{Kind: statemachine.LockAcquire, Resource: "doc1", ClientID: "b", Mode: string(lockservice.Exclusive), EnqueuedAt: t0.Add(time.Second)})

	scanner := NewDeadlockScanner(node, machine, time.Hour)
	defer scanner.Stop()

	scanner.scanOnce()

	require.True(t, waitFor(2*time.Second, func() bool {
		for _, l := range machine.InspectLocks() {
			for _, h := range l.Holders {
				if h == "b" {
					return false
				}
			}
		}
		return true
	}), "victim b must have been aborted by the proposed LockAbort")
}

func TestQueueSweeper_ReturnsExpiredInflightMessage(t *testing.T) {
	node, machine, cleanup := newLeaderForTest(t)
	defer cleanup()

	mustApply(t, machine, statemachine.Command{Kind: statemachine.QueueEnqueue, QueueName: "orders", MessageID: "m1", ProducedAt: time.Now()})
	mustApply(t, machine, statemachine.Command{Kind: statemachine.QueueReserve, MessageID: "m1", ConsumerID: "c1", VisibleAt: time.Now().Add(-time.Second)})

	sweeper := NewQueueSweeper(node, machine, time.Hour)
	defer sweeper.Stop()

	sweeper.sweepOnce()

	require.True(t, waitFor(2*time.Second, func() bool {
		msg, ok := machine.Queues.Get("m1")
		return ok && msg.State == queueservice.Pending
	}), "expired inflight message must be returned to pending")
}

func mustApply(t *testing.T, m *statemachine.Machine, cmd statemachine.Command) {
	data, err := statemachine.Encode(cmd)
	require.NoError(t, err)
	_, err = m.Apply(data)
	require.NoError(t, err)
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
