package datalink

import (
	"sync"
	"time"
)

// PendingSend tracks one data frame awaiting its ACK.
type PendingSend struct {
	Seq           uint16
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	AckDeadlineAt time.Time
	Frame         []byte

	acked chan struct{}
}

// outbox holds the in-flight sends of a link keyed by frame sequence. Send is
// serialized, so it never holds more than one entry.
type outbox struct {
	mu    sync.Mutex
	items map[uint16]*PendingSend
}

func newOutbox() *outbox {
	return &outbox{items: make(map[uint16]*PendingSend)}
}

func (o *outbox) Upsert(item *PendingSend) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if item.acked == nil {
		item.acked = make(chan struct{})
	}
	o.items[item.Seq] = item
}

func (o *outbox) MarkAttempt(seq uint16, at time.Time, timeout time.Duration) (PendingSend, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[seq]
	if !ok {
		return PendingSend{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.AckDeadlineAt = at.Add(timeout)
	return *item, true
}

// Ack completes the entry for seq. It reports false for an unknown sequence.
func (o *outbox) Ack(seq uint16) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[seq]
	if !ok {
		return false
	}
	delete(o.items, seq)
	close(item.acked)
	return true
}

func (o *outbox) Remove(seq uint16) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.items, seq)
}

func (o *outbox) Get(seq uint16) (PendingSend, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[seq]
	if !ok {
		return PendingSend{}, false
	}
	return *item, true
}
