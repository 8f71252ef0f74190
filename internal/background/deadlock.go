// Package background runs the long-lived tasks spec §5 assigns
// outside the consensus/applier hot path: the deadlock scanner and the
// queue visibility-timeout sweeper. Both run only on the node that
// currently believes itself leader, proposing the commands that
// actually mutate state rather than mutating it directly, matching the
// teacher's goroutine-per-duty layout (raft-server/server.go's
// sendHeartbeats) generalised to non-replication background work.
package background

import (
	"log"
	"time"

	"github.com/konstantsiy/clustercore/internal/raft"
	"github.com/konstantsiy/clustercore/internal/statemachine"
)

// DeadlockScanner periodically builds the wait-for graph and proposes
// LockAbort for each cycle's victim, per spec §4.3.
type DeadlockScanner struct {
	node     *raft.Node
	machine  *statemachine.Machine
	interval time.Duration

	shutdownCh chan struct{}
}

func NewDeadlockScanner(node *raft.Node, machine *statemachine.Machine, interval time.Duration) *DeadlockScanner {
	return &DeadlockScanner{node: node, machine: machine, interval: interval, shutdownCh: make(chan struct{})}
}

func (s *DeadlockScanner) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.scanOnce()
		}
	}
}

func (s *DeadlockScanner) scanOnce() {
	if _, isLeader := s.node.State(); !isLeader {
		return
	}

	for _, victim := range s.machine.RunDeadlockScan() {
		cmd := statemachine.Command{Kind: statemachine.LockAbort, ClientID: victim}
		data, err := statemachine.Encode(cmd)
		if err != nil {
			continue
		}
		if _, err := s.node.Propose(data); err != nil {
			log.Printf("deadlock scanner: propose LockAbort(%s): %v", victim, err)
		}
	}
}

func (s *DeadlockScanner) Stop() { close(s.shutdownCh) }
