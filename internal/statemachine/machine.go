package statemachine

import (
	"sync"
	"time"

	"github.com/konstantsiy/clustercore/internal/cacheservice"
	"github.com/konstantsiy/clustercore/internal/clustererr"
	"github.com/konstantsiy/clustercore/internal/lockservice"
	"github.com/konstantsiy/clustercore/internal/queueservice"
)

// Machine dispatches committed commands to the lock, queue and cache
// services, satisfying raft.Applier. mu is the "single lock held over
// all three service tables" of spec §4.6 — lockservice.Table and
// queueservice.Broker hold no lock of their own and rely on it
// entirely; cacheservice.Directory additionally guards itself since
// its read path releases this lock's equivalent around a network
// probe.
type Machine struct {
	mu     sync.Mutex
	Locks  *lockservice.Table
	Queues *queueservice.Broker
	Cache  *cacheservice.Directory
}

func New(locks *lockservice.Table, queues *queueservice.Broker, cache *cacheservice.Directory) *Machine {
	return &Machine{Locks: locks, Queues: queues, Cache: cache}
}

// Apply implements raft.Applier. It is invoked once per committed
// entry, in index order, by the single-threaded applier of spec §4.6.
func (m *Machine) Apply(data []byte) ([]byte, error) {
	cmd, err := Decode(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch cmd.Kind {
	case LockAcquire:
		granted := m.Locks.Acquire(cmd.Resource, cmd.ClientID, lockservice.Mode(cmd.Mode), cmd.EnqueuedAtOrZero())
		return encodeResult(Result{Granted: granted, Queued: !granted}), nil

	case LockRelease:
		if !m.Locks.Release(cmd.Resource, cmd.ClientID) {
			return nil, clustererr.ErrNotHolder
		}
		return encodeResult(Result{OK: true}), nil

	case LockAbort:
		m.Locks.Abort(cmd.ClientID)
		return encodeResult(Result{OK: true}), nil

	case QueueEnqueue:
		m.Queues.ApplyEnqueue(cmd.QueueName, cmd.MessageID, cmd.Payload, cmd.ProducedAt)
		return encodeResult(Result{OK: true}), nil

	case QueueReserve:
		ok := m.Queues.ApplyReserve(cmd.MessageID, cmd.ConsumerID, cmd.VisibleAt)
		return encodeResult(Result{OK: ok}), nil

	case QueueAck:
		if !m.Queues.ApplyAck(cmd.MessageID) {
			return nil, clustererr.ErrUnknownMessage
		}
		return encodeResult(Result{OK: true}), nil

	case QueueReturn:
		ok := m.Queues.ApplyReturn(cmd.MessageID)
		return encodeResult(Result{OK: ok}), nil

	case QueueDead:
		ok := m.Queues.ApplyDead(cmd.MessageID)
		return encodeResult(Result{OK: ok}), nil

	case CachePut:
		m.Cache.ApplyPut(cmd.Key, cmd.Value, cmd.OriginNode)
		return encodeResult(Result{OK: true}), nil

	case CacheEvict:
		m.Cache.ApplyEvict(cmd.Key, cmd.Value, cmd.OriginNode)
		return encodeResult(Result{OK: true}), nil

	default:
		return nil, clustererr.ErrUnknownMessage
	}
}

// InspectLocks serves Lock inspect reads, going through the same lock
// Apply uses since lockservice.Table is otherwise unsynchronised.
func (m *Machine) InspectLocks() []lockservice.LockSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Locks.Inspect()
}

func (m *Machine) QueueStats() map[string]queueservice.QueueStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Queues.Stats()
}

// PendingQueueHead looks up the oldest pending message in queueName
// under the same lock Apply uses, since queueservice.Broker is
// otherwise unsynchronised.
func (m *Machine) PendingQueueHead(queueName string) (*queueservice.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Queues.PendingHead(queueName)
}

// ExpiredQueueMessages reports inflight messages past their
// visibility deadline, for the sweeper to propose QueueReturn/
// QueueDead on.
func (m *Machine) ExpiredQueueMessages(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Queues.ExpiredInflight(now)
}

// QueueExceedsRetries reports whether messageID has already exhausted
// its retry budget, for the sweeper to choose QueueDead over
// QueueReturn.
func (m *Machine) QueueExceedsRetries(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Queues.ExceedsRetries(messageID)
}

// LockChannel returns the notification channel a queued LockAcquire
// was given at enqueue time (created atomically within Apply, so
// there is no race between a grant and a caller looking it up
// afterwards), or ok=false if that (resource, clientID) pair was never
// queued. A request that has already resolved still returns its
// channel, with the outcome buffered in it unless it was already read.
func (m *Machine) LockChannel(resource, clientID string) (<-chan lockservice.Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Locks.Channel(resource, clientID)
}

// RunDeadlockScan runs one pass of deadlock detection and returns the
// victims that must be proposed as LockAbort commands by the caller
// (only ever the leader, per spec §4.3); it does not itself propose
// anything since Apply must remain the sole writer of lock state.
func (m *Machine) RunDeadlockScan() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	cycles := m.Locks.DetectCycles()
	victims := make([]string, 0, len(cycles))
	for _, c := range cycles {
		victims = append(victims, c.Victim)
	}
	return victims
}
