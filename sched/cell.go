package sched

import "sync/atomic"

// Cell is a single-slot, last-writer-wins cell publishing an immutable
// snapshot from one writer to any number of readers. Readers never
// observe a partially written value and never block the writer: the
// snapshot is swapped in atomically as a whole, which keeps the
// worst-case blocking time of the highest-priority reader at zero.
type Cell[T any] struct {
	p atomic.Pointer[T]
}

// Store publishes v as the current snapshot.
func (c *Cell[T]) Store(v T) {
	c.p.Store(&v)
}

// Load returns the most recently published snapshot. ok is false if
// nothing has been published yet.
func (c *Cell[T]) Load() (v T, ok bool) {
	p := c.p.Load()
	if p == nil {
		return v, false
	}
	return *p, true
}
