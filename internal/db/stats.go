// Package db provides connection management, query building and schema
// migration for the local ledger store.
package db

import (
	"sync"
	"time"
)

// OpStats holds latency statistics for one operation kind.
type OpStats struct {
	Count   int64         `json:"count"`
	Total   time.Duration `json:"total"`
	Average time.Duration `json:"average"`
	Max     time.Duration `json:"max"`
}

// Stats records per-operation latency statistics. It uses its own lock,
// separate from the cache, so stats bookkeeping never blocks cache
// lookups.
type Stats struct {
	mu  sync.Mutex
	ops map[string]*OpStats
}

// NewStats creates an empty Stats collector.
func NewStats() *Stats {
	return &Stats{ops: make(map[string]*OpStats)}
}

// Record adds one observation for the named operation.
func (s *Stats) Record(op string, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.ops[op]
	if !ok {
		st = &OpStats{}
		s.ops[op] = st
	}

	st.Count++
	st.Total += elapsed
	st.Average = st.Total / time.Duration(st.Count)
	if elapsed > st.Max {
		st.Max = elapsed
	}
}

// Snapshot returns a copy of all operation statistics.
func (s *Stats) Snapshot() map[string]OpStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]OpStats, len(s.ops))
	for op, st := range s.ops {
		out[op] = *st
	}
	return out
}

// Timed runs fn and records its elapsed time under op.
func (s *Stats) Timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.Record(op, time.Since(start))
	return err
}
