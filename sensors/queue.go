package sensors

import (
	"sync"
	"sync/atomic"
)

// Queue is a fixed-capacity frame queue with a drop-oldest overflow
// policy. A driver pushes from interrupt/DMA context (any goroutine);
// the estimator task drains it. Overflow never blocks the producer;
// the loss is counted instead.
type Queue struct {
	mu    sync.Mutex
	buf   []Frame
	head  int
	count int

	dropped atomic.Uint64
}

// NewQueue returns a Queue holding at most capacity frames.
// Capacity is fixed for the life of the queue.
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

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	n := q.count
	q.mu.Unlock()
	return n
}

// Dropped returns the number of frames lost to overflow since creation.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
