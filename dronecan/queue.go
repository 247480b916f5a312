package dronecan

import (
	"sync"
	"sync/atomic"
)

// Queue is a fixed-capacity receive queue with a drop-oldest overflow
// policy. The bus driver pushes from any goroutine; the bus task drains
// it. Overflow never blocks the producer.
type Queue struct {
	mu    sync.Mutex
	buf   []Frame
	head  int
	count int

	dropped atomic.Uint64
}

// NewQueue returns a Queue holding at most capacity frames.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{buf: make([]Frame, capacity)}
}

// Push appends f, discarding the oldest frame if the queue is full.
func (q *Queue) Push(f Frame) {
	q.mu.Lock()
	if q.count == len(q.buf) {
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		q.dropped.Add(1)
	}
	q.buf[(q.head+q.count)%len(q.buf)] = f
	q.count++
	q.mu.Unlock()
}

// Pop removes and returns the oldest frame. ok is false when empty.
func (q *Queue) Pop() (f Frame, ok bool) {
	q.mu.Lock()
	if q.count > 0 {
		f = q.buf[q.head]
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		ok = true
	}
	q.mu.Unlock()
	return f, ok
}

// Dropped returns the number of frames lost to overflow since creation.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
