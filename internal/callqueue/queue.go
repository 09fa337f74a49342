// Package callqueue holds the bounded FIFO of pending invocations that
// couples application threads to the supervisor. Producers never block:
// a full queue sheds the call back to the caller. There is deliberately
// no condition variable on the consumer side; the supervisor polls at
// its own tick cadence.
package callqueue

import (
	"sync"

	"github.com/sovereignedge/cognit-device-runtime/internal/domain"
	"github.com/sovereignedge/cognit-device-runtime/internal/logging"
)

// DefaultSize is the queue bound used when none is configured.
const DefaultSize = 50

// Queue is a mutex-protected bounded FIFO of Call records.
type Queue struct {
	mu    sync.Mutex
	calls []*domain.Call
	bound int
}

// New creates a queue with the given bound. Non-positive bounds fall back
// to DefaultSize.
func New(bound int) *Queue {
	if bound <= 0 {
		bound = DefaultSize
	}
	return &Queue{bound: bound}
}

// Enqueue appends a call at the tail. Returns false iff the queue is at
// capacity; the caller surfaces "overloaded" to the application.
func (q *Queue) Enqueue(call *domain.Call) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.calls) >= q.bound {
		logging.Op().Warn("call queue full, call discarded", "bound", q.bound)
		return false
	}
	q.calls = append(q.calls, call)
	return true
}

// Dequeue removes and returns the head, or nil if the queue is empty.
func (q *Queue) Dequeue() *domain.Call {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.calls) == 0 {
		return nil
	}
	call := q.calls[0]
	q.calls = q.calls[1:]
	return call
}

// Len returns the number of queued calls.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

// Drain removes and returns every queued call. Used on shutdown so sync
// callers blocked on the rendezvous can be released with an error result.
func (q *Queue) Drain() []*domain.Call {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.calls
	q.calls = nil
	return drained
}
