package gateway

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/vidmesh/signaling/internal/metrics"
	"github.com/vidmesh/signaling/internal/signal"
)

var (
	errQueueClosed = errors.New("outbound queue closed")
	// errQueueOverflow means the queue is full of messages that may not be
	// dropped. The connection is beyond saving at that point.
	errQueueOverflow = errors.New("outbound queue overflow")
)

// outboundQueue is a count-bounded FIFO of envelopes awaiting the writer
// goroutine. Enqueue never blocks: when the queue is full, the oldest
// droppable presence broadcast is shed to make room; if every queued envelope
// is critical, the enqueue fails and the connection must be torn down.
type outboundQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	max   int
	items []signal.Envelope

	metrics         *metrics.Metrics
	droppedPresence atomic.Uint64
}

func newOutboundQueue(max int, m *metrics.Metrics) *outboundQueue {
	if m == nil {
		m = metrics.New()
	}
	q := &outboundQueue{max: max, metrics: m}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *outboundQueue) DroppedPresence() uint64 {
	return q.droppedPresence.Load()
}

func (q *outboundQueue) Enqueue(env signal.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errQueueClosed
	}
	if len(q.items) >= q.max {
		if !q.shedOldestDroppableLocked() {
			return errQueueOverflow
		}
	}
	q.items = append(q.items, env)
	q.notEmpty.Signal()
	return nil
}

func (q *outboundQueue) shedOldestDroppableLocked() bool {
	for i, it := range q.items {
		if !it.Kind.Critical() {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.droppedPresence.Add(1)
			q.metrics.Inc(metrics.QueueDroppedPresence)
			return true
		}
	}
	return false
}

// Dequeue blocks until an envelope is available or the queue is closed and
// drained.
func (q *outboundQueue) Dequeue() (signal.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return signal.Envelope{}, false
	}
	env := q.items[0]
	copy(q.items, q.items[1:])
	q.items = q.items[:len(q.items)-1]
	return env, true
}

func (q *outboundQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
