package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"execution-core/internal/audit"
)

var (
	ErrQueueFull   = errors.New("audit queue full")
	ErrQueueClosed = errors.New("audit queue closed")
)

// Queue is a bounded, non-blocking queue decoupling the audit log from
// slow consumers such as the database archiver. A full queue drops rather
// than stalls the append path.
type Queue struct {
	ch     chan audit.Entry
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan audit.Entry, capacity)}
}

// TryPublish enqueues an entry without blocking.
func (q *Queue) TryPublish(entry audit.Entry) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- entry:
		return nil
	default:
		return ErrQueueFull
	}
}

// Sink adapts TryPublish to an audit.Sink, reporting drops through the
// callback.
func (q *Queue) Sink(onDrop func(error)) audit.Sink {
	return func(entry audit.Entry) {
		if err := q.TryPublish(entry); err != nil && onDrop != nil {
			onDrop(err)
		}
	}
}

// Close stops the queue from accepting new entries.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes entries until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(audit.Entry)) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-q.ch:
			if !ok {
				return
			}
			handler(entry)
		}
	}
}
