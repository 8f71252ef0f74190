package background

import (
	"log"
	"time"

	"github.com/konstantsiy/clustercore/internal/raft"
	"github.com/konstantsiy/clustercore/internal/statemachine"
)

// QueueSweeper periodically moves inflight messages whose visibility
// deadline has passed back to pending (or, past maxRetries, to the
// dead-letter queue), per spec §4.4, generalising
// original_source/src/nodes/queue_node.py's fixed 30s
// _retry_failed_messages loop into a configurable interval.
type QueueSweeper struct {
	node     *raft.Node
	machine  *statemachine.Machine
	interval time.Duration

	shutdownCh chan struct{}
}

func NewQueueSweeper(node *raft.Node, machine *statemachine.Machine, interval time.Duration) *QueueSweeper {
	return &QueueSweeper{node: node, machine: machine, interval: interval, shutdownCh: make(chan struct{})}
}

func (s *QueueSweeper) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *QueueSweeper) sweepOnce() {
	if _, isLeader := s.node.State(); !isLeader {
		return
	}

	for _, messageID := range s.machine.ExpiredQueueMessages(time.Now().UTC()) {
		kind := statemachine.QueueReturn
		if s.machine.QueueExceedsRetries(messageID) {
			kind = statemachine.QueueDead
		}

		cmd := statemachine.Command{Kind: kind, MessageID: messageID}
		data, err := statemachine.Encode(cmd)
		if err != nil {
			continue
		}
		if _, err := s.node.Propose(data); err != nil {
			log.Printf("queue sweeper: propose %s(%s): %v", kind, messageID, err)
		}
	}
}

func (s *QueueSweeper) Stop() { close(s.shutdownCh) }
