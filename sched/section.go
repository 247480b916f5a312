package sched

import (
	"sync"
	"time"
)

// Section is a priority-ceiling critical section guarding state shared
// between two tasks. The holder runs the section to completion, so the
// worst-case blocking imposed on a higher-priority task is bounded by
// the longest section body, never by an unbounded wait. MaxHold records
// that bound so it can be re-verified whenever a section's contents
// change.
type Section struct {
	mu      sync.Mutex
	maxHold time.Duration
}

// Do runs f inside the section and records its hold time.
func (s *Section) Do(f func()) {
	s.mu.Lock()
	start := time.Now()
	f()
	held := time.Since(start)
	if held > s.maxHold {
		s.maxHold = held
	}
	s.mu.Unlock()
}

// MaxHold returns the longest observed hold time, the empirical bound on
// priority inversion this section can cause.
func (s *Section) MaxHold() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxHold
}
