package app

import (
	"sync"

	"github.com/dkeye/relay/internal/core"
)

// queueSignal is a bounded in-memory SignalConnection.
type queueSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	cap    int
	closed bool
}

func newQueue(capacity int) *queueSignal { return &queueSignal{cap: capacity} }

func (q *queueSignal) TrySend(f core.Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return core.ErrClosed
	}
	if q.cap > 0 && len(q.frames) >= q.cap {
		return core.ErrBackpressure
	}
	q.frames = append(q.frames, f)
	return nil
}

func (q *queueSignal) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *queueSignal) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *queueSignal) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
