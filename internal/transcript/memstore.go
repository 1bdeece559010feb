package transcript

import (
	"context"
	"slices"
	"sync"
)

// MemStore is an in-memory [Store] holding at most a fixed number of
// entries. Once full, the oldest entry is evicted.
type MemStore struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a MemStore keeping up to capacity entries. A capacity
// of zero or less keeps 1000.
func NewMemStore(capacity int) *MemStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemStore{capacity: capacity}
}

// Append implements [Store].
func (s *MemStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Segments = slices.Clone(e.Segments)
	e.Corrections = slices.Clone(e.Corrections)
	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.capacity; over > 0 {
		s.entries = slices.Delete(s.entries, 0, over)
	}
	return nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context, q Query) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.LimitOrDefault()
	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if q.SessionID != "" && s.entries[i].SessionID != q.SessionID {
			continue
		}
		out = append(out, s.entries[i])
	}
	slices.Reverse(out)
	return out, nil
}

// Len returns the number of stored entries.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
