package workflow

import (
	"sync"
	"sync/atomic"
)

// Ordering decides which of several overlapping discovery responses wins
type Ordering string

const (
	// OrderingResolved applies every response as it arrives, so the last one
	// to resolve wins regardless of issue order.
	OrderingResolved Ordering = "resolved"
	// OrderingIssued discards responses older than the newest one applied.
	OrderingIssued Ordering = "issued"
)

// ParseOrdering maps a config value to an Ordering, defaulting to resolved.
func ParseOrdering(s string) Ordering {
	if Ordering(s) == OrderingIssued {
		return OrderingIssued
	}
	return OrderingResolved
}

// sequencer hands out discovery sequence numbers and remembers the newest
// one applied.
type sequencer struct {
	issued int64

	mu      sync.Mutex
	applied int64
}

// Next returns a new, unique sequence number atomically.
func (s *sequencer) Next() int64 {
	return atomic.AddInt64(&s.issued, 1)
}

// tryApply runs apply when seq is allowed to win under ordering and records
// it as applied. It reports whether apply ran.
func (s *sequencer) tryApply(ordering Ordering, seq int64, apply func() error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ordering == OrderingIssued && seq < s.applied {
		return false, nil
	}
	if err := apply(); err != nil {
		return false, err
	}
	if seq > s.applied {
		s.applied = seq
	}
	return true, nil
}
