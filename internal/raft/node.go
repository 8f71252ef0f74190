package raft

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"
)

// Node is a single cluster member's consensus state, generalising the
// teacher's raft-server.Server to string node ids and a pluggable
// Applier/Transport.
type Node struct {
	ID    string
	peers []string // all node ids, including self

	mu sync.RWMutex

	persistentState persistentState
	fd              *os.File
	volatileState   volatileState
	leaderState     leaderState

	role Role

	electionTimeoutMin time.Duration
	electionTimeoutMax time.Duration
	heartbeatInterval  time.Duration

	electionTimer   *time.Timer
	heartbeatTicker *time.Ticker

	applier   Applier
	transport Transport

	// appliedResults holds the applier's output for each applied index,
	// so a concurrent awaitApplied can retrieve the outcome of the
	// entry it is waiting on rather than the raw command it proposed.
	appliedResults map[uint64]appliedResult

	// leaderCh receives the current leader id (or "" when unknown)
	// whenever it changes and is exposed through LeaderUpdates, letting
	// other components observe leadership without reaching into Node's
	// internals (spec §9 "no other component reads [role/term/log]
	// directly").
	leaderCh chan string
	curLeader string

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

type Option func(*Node)

func WithElectionTimeout(min, max time.Duration) Option {
	return func(n *Node) { n.electionTimeoutMin, n.electionTimeoutMax = min, max }
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(n *Node) { n.heartbeatInterval = d }
}

// NewNode creates a node backed by a persistent log file named
// "raft-<id>.dat" under dataDir.
func NewNode(id string, peers []string, dataDir string, applier Applier, transport Transport, opts ...Option) (*Node, error) {
	path := fmt.Sprintf("%s/raft-%s.dat", dataDir, id)
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	n := &Node{
		ID:    id,
		peers: peers,
		fd:    fd,
		role:  Follower,
		leaderState: leaderState{
			nextIndex:  make(map[string]uint64),
			matchIndex: make(map[string]uint64),
		},
		applier:             applier,
		transport:           transport,
		appliedResults:      make(map[uint64]appliedResult),
		electionTimeoutMin:  150 * time.Millisecond,
		electionTimeoutMax:  300 * time.Millisecond,
		heartbeatInterval:   50 * time.Millisecond,
		leaderCh:            make(chan string, 8),
		shutdownCh:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(n)
	}

	if err := n.restore(); err != nil {
		n.persistentState.log = nil
		n.persistentState.currentTerm = 0
		n.persistentState.votedFor = ""
	}

	return n, nil
}

// Start begins the election timer and the main event loop.
func (n *Node) Start() {
	n.resetElectionTimer()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-n.shutdownCh:
				return
			case <-n.electionTimer.C:
				n.startElection()
			}
		}
	}()
}

// Shutdown stops all timers and closes the persistence file.
func (n *Node) Shutdown() {
	close(n.shutdownCh)
	n.wg.Wait()

	n.mu.Lock()
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	if n.heartbeatTicker != nil {
		n.heartbeatTicker.Stop()
	}
	n.mu.Unlock()

	_ = n.fd.Close()
}

// State returns the current term and whether this node believes it is
// leader.
func (n *Node) State() (uint64, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.persistentState.currentTerm, n.role == Leader
}

// Status returns the read-only snapshot for Cluster.Status (spec §6).
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return Status{
		Role:     n.role.String(),
		Term:     n.persistentState.currentTerm,
		LeaderID: n.curLeader,
		Peers:    append([]string(nil), n.peers...),
	}
}

// LeaderUpdates exposes leadership changes for other components to
// subscribe to (spec §9: role changes reach other components through a
// subscription stream, never by direct field access).
func (n *Node) LeaderUpdates() <-chan string {
	return n.leaderCh
}

func (n *Node) setLeader(id string) {
	if n.curLeader == id {
		return
	}
	n.curLeader = id
	select {
	case n.leaderCh <- id:
	default:
	}
}

func (n *Node) resetElectionTimer() {
	lo := int64(n.electionTimeoutMin)
	hi := int64(n.electionTimeoutMax)
	timeout := time.Duration(lo + rand.Int63n(hi-lo+1))

	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	n.electionTimer = time.NewTimer(timeout)
}

func (n *Node) lastLogIndexAndTerm() (uint64, uint64) {
	if len(n.persistentState.log) == 0 {
		return 0, 0
	}
	last := n.persistentState.log[len(n.persistentState.log)-1]
	return last.Index, last.Term
}

func (n *Node) majority() int {
	return len(n.peers)/2 + 1
}

func (n *Node) logf(format string, args ...any) {
	log.Printf("[%s] "+format, append([]any{n.ID}, args...)...)
}

// persistOrDie writes currentTerm/votedFor/log to disk and exits the
// process on failure. The safety of votes and commits depends on this
// state surviving a crash, so a node that can't durably record a term
// bump, a vote, or an appended entry must stop rather than keep running
// on state only it believes is true.
func (n *Node) persistOrDie() {
	if err := n.persist(); err != nil {
		n.logf("fatal: cannot persist state: %v", err)
		os.Exit(2)
	}
}
