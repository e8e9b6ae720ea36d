package source

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

// offsetTracker keeps the highest fetched message per Kafka partition until
// it is committed. Malformed messages are tracked too, so a commit moves
// the group past them.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[int]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{pending: make(map[int]kafka.Message)}
}

func (t *offsetTracker) track(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.pending[msg.Partition]; !ok || msg.Offset > prev.Offset {
		t.pending[msg.Partition] = msg
	}
}

// snapshot returns the current high-water message of every partition.
func (t *offsetTracker) snapshot() []kafka.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := make([]kafka.Message, 0, len(t.pending))
	for _, m := range t.pending {
		msgs = append(msgs, m)
	}
	return msgs
}

// committed forgets partitions whose high-water mark is still the one that
// was committed. Partitions that moved on in the meantime stay pending.
func (t *offsetTracker) committed(msgs []kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		if cur, ok := t.pending[m.Partition]; ok && cur.Offset == m.Offset {
			delete(t.pending, m.Partition)
		}
	}
}

// ackTracker follows RabbitMQ delivery tags for one channel so a single
// multiple-ack covers every delivery received so far.
type ackTracker struct {
	mu      sync.Mutex
	lastTag uint64
	acked   uint64
}

func (a *ackTracker) received(tag uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tag > a.lastTag {
		a.lastTag = tag
	}
}

// ack calls send with the newest unacked tag, if any, and records it only
// when send succeeds.
func (a *ackTracker) ack(send func(tag uint64) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lastTag == 0 || a.lastTag == a.acked {
		return nil
	}
	if err := send(a.lastTag); err != nil {
		return err
	}
	a.acked = a.lastTag
	return nil
}
