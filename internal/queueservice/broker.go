// Package queueservice implements partitioned, persistent queues with
// visibility-timeout-based at-least-once delivery, per spec §4.4.
// Grounded on original_source/src/nodes/queue_node.py's queue/in_flight/dlq
// tables, replacing its direct deque mutation with command handlers
// driven deterministically from the replicated log.
package queueservice

import (
	"sort"
	"time"

	"github.com/konstantsiy/clustercore/internal/sink"
)

// DeadLetterQueue is the distinguished queue name messages move into
// once attempts reach the configured maximum (spec §4.4), kept as an
// ordinary queue table entry rather than a side table so it replicates
// like everything else.
const DeadLetterQueue = "__dead__"

type State string

const (
	Pending State = "pending"
	Inflight State = "inflight"
	Acked    State = "acked"
	Dead     State = "dead"
)

type Message struct {
	ID         string
	QueueName  string
	Payload    []byte
	ProducedAt time.Time
	Attempts   int
	State      State
	VisibleAt  time.Time
	ConsumerID string
}

// Broker holds every queue's message table. Like lockservice.Table it
// owns no mutex: callers (statemachine.Machine) serialise access via
// the single applier lock.
type Broker struct {
	maxRetries int
	sink       sink.PersistentSink

	messages map[string]*Message   // messageId -> message
	order    map[string][]string   // queueName -> messageIds in arrival order (pending/inflight; the dead-letter queue's list holds dead messages)
}

func NewBroker(maxRetries int, backing sink.PersistentSink) *Broker {
	return &Broker{
		maxRetries: maxRetries,
		sink:       backing,
		messages:   make(map[string]*Message),
		order:      make(map[string][]string),
	}
}

// ApplyEnqueue is the deterministic handler for QueueEnqueue: append
// to the in-memory queue and write through to the persistent sink
// keyed by messageId (spec §4.4 producer path, step 4).
func (b *Broker) ApplyEnqueue(queueName, messageID string, payload []byte, producedAt time.Time) {
	msg := &Message{
		ID:         messageID,
		QueueName:  queueName,
		Payload:    payload,
		ProducedAt: producedAt,
		State:      Pending,
	}
	b.messages[messageID] = msg
	b.order[queueName] = append(b.order[queueName], messageID)

	if b.sink != nil {
		_ = b.sink.Put(messageID, payload)
	}
}

// PendingHead returns the oldest pending message in queueName, for
// the primary to select before proposing QueueReserve (spec §4.4
// consumer path).
func (b *Broker) PendingHead(queueName string) (*Message, bool) {
	for _, id := range b.order[queueName] {
		if msg, ok := b.messages[id]; ok && msg.State == Pending {
			return msg, true
		}
	}
	return nil, false
}

// ApplyReserve is the deterministic handler for QueueReserve: marks a
// pending message inflight with the given visibility deadline (spec
// §4.4 — "dequeue is a command too").
func (b *Broker) ApplyReserve(messageID, consumerID string, visibleAt time.Time) bool {
	msg, ok := b.messages[messageID]
	if !ok || msg.State != Pending {
		return false
	}
	msg.State = Inflight
	msg.ConsumerID = consumerID
	msg.VisibleAt = visibleAt
	return true
}

// ApplyAck is the deterministic handler for QueueAck: deletes the
// message and its persistent-sink entry.
func (b *Broker) ApplyAck(messageID string) bool {
	msg, ok := b.messages[messageID]
	if !ok {
		return false
	}
	msg.State = Acked
	delete(b.messages, messageID)
	b.removeFromOrder(msg.QueueName, messageID)
	if b.sink != nil {
		_ = b.sink.Delete(messageID)
	}
	return true
}

// ApplyReturn is the deterministic handler for QueueReturn, proposed
// by the visibility-timeout sweeper: moves an inflight message back to
// pending and increments its attempt count (spec §4.4).
func (b *Broker) ApplyReturn(messageID string) bool {
	msg, ok := b.messages[messageID]
	if !ok || msg.State != Inflight {
		return false
	}
	msg.State = Pending
	msg.Attempts++
	msg.ConsumerID = ""
	msg.VisibleAt = time.Time{}
	return true
}

// ApplyDead is the deterministic handler for QueueDead: moves a
// message that exceeded maxRetries into the dead-letter queue (spec
// §4.4).
func (b *Broker) ApplyDead(messageID string) bool {
	msg, ok := b.messages[messageID]
	if !ok {
		return false
	}
	b.removeFromOrder(msg.QueueName, messageID)
	msg.State = Dead
	msg.QueueName = DeadLetterQueue
	b.order[DeadLetterQueue] = append(b.order[DeadLetterQueue], messageID)
	return true
}

// ExceedsRetries reports whether messageID has been returned enough
// times to warrant dead-lettering instead of another redelivery (spec
// §4.4, default maxRetries=5).
func (b *Broker) ExceedsRetries(messageID string) bool {
	msg, ok := b.messages[messageID]
	return ok && msg.Attempts >= b.maxRetries
}

func (b *Broker) removeFromOrder(queueName, messageID string) {
	ids := b.order[queueName]
	for i, id := range ids {
		if id == messageID {
			b.order[queueName] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// ExpiredInflight returns the ids of inflight messages whose
// visibility deadline has passed as of now, for the sweeper to
// propose QueueReturn (or QueueDead, if retries are exhausted) on.
func (b *Broker) ExpiredInflight(now time.Time) []string {
	var expired []string
	for id, msg := range b.messages {
		if msg.State == Inflight && now.After(msg.VisibleAt) {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired
}

// QueueStats is the read-only depth/DLQ summary exposed by Stats.
type QueueStats struct {
	Pending  int
	Inflight int
	DeadLetters int
}

func (b *Broker) Stats() map[string]QueueStats {
	out := make(map[string]QueueStats)
	for _, msg := range b.messages {
		s := out[msg.QueueName]
		switch msg.State {
		case Pending:
			s.Pending++
		case Inflight:
			s.Inflight++
		case Dead:
			s.DeadLetters++
		}
		out[msg.QueueName] = s
	}
	return out
}

// Get looks up a message by id, for tests and inspection.
func (b *Broker) Get(messageID string) (*Message, bool) {
	msg, ok := b.messages[messageID]
	return msg, ok
}
