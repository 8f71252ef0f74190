package background

import (
	"log"
	"sync"
	"time"

	"github.com/konstantsiy/clustercore/internal/transport"
)

// FailureMonitor periodically sweeps the failure detector and records
// every state transition it reports, generalising the teacher's
// ticker-driven goroutine layout into a passive liveness observer:
// the detector only does something if something sweeps it and
// something consumes what it reports (spec §4.1).
type FailureMonitor struct {
	detector *transport.Detector
	interval time.Duration

	mu     sync.RWMutex
	states map[string]transport.NodeState

	shutdownCh chan struct{}
}

func NewFailureMonitor(detector *transport.Detector, interval time.Duration) *FailureMonitor {
	return &FailureMonitor{
		detector:   detector,
		interval:   interval,
		states:     make(map[string]transport.NodeState),
		shutdownCh: make(chan struct{}),
	}
}

func (m *FailureMonitor) Run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	changes := m.detector.Subscribe()
	for {
		select {
		case <-m.shutdownCh:
			return
		case <-ticker.C:
			m.detector.Sweep()
		case change := <-changes:
			m.mu.Lock()
			m.states[change.NodeID] = change.To
			m.mu.Unlock()
			log.Printf("peer %s: %s -> %s", change.NodeID, change.From, change.To)
		}
	}
}

// Snapshot returns the last known state per peer, for surfacing in
// /health or cluster status.
func (m *FailureMonitor) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.states))
	for id, s := range m.states {
		out[id] = s.String()
	}
	return out
}

func (m *FailureMonitor) Stop() { close(m.shutdownCh) }
