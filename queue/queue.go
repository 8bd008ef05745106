// Package queue implements the bounded buffer between event producers and the
// HTTP long-poll sink. When full, the oldest event is evicted so the freshest
// events always survive a slow or absent poller.
package queue

import (
	"sync"

	"github.com/onnwee/chat-relay/event"
)

// DefaultCapacity bounds memory when no poller drains the queue.
const DefaultCapacity = 10000

// Queue is a fixed-capacity FIFO ring buffer safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	buf   []event.Event
	head  int
	count int
}

// New returns a queue holding at most capacity events. A capacity of zero or
// less selects DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{buf: make([]event.Event, capacity)}
}

// Push appends ev without blocking. It returns the number of events evicted
// to make room (0 or 1).
func (q *Queue) Push(ev event.Event) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	evicted := 0
	if q.count == len(q.buf) {
		q.buf[q.head] = event.Event{}
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		evicted = 1
	}
	q.buf[(q.head+q.count)%len(q.buf)] = ev
	q.count++
	return evicted
}

// DrainAll removes and returns every queued event in insertion order. The
// result is never nil; an empty queue yields an empty slice.
func (q *Queue) DrainAll() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]event.Event, q.count)
	for i := range q.count {
		idx := (q.head + i) % len(q.buf)
		out[i] = q.buf[idx]
		q.buf[idx] = event.Event{}
	}
	q.head, q.count = 0, 0
	return out
}

// Len reports the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap reports the queue capacity.
func (q *Queue) Cap() int { return len(q.buf) }
