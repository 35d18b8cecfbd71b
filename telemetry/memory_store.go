package telemetry

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity bounds the in-memory trace ring
const DefaultMemoryCapacity = 1000

// MemoryStore keeps closed trace records in a fixed-size ring buffer.
// It is the default backend.
type MemoryStore struct {
	mu       sync.Mutex
	records  []*TraceRecord
	next     int
	size     int
	capacity int
}

// NewMemoryStore creates a ring buffer store. A non-positive capacity
// falls back to the default.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{
		records:  make([]*TraceRecord, capacity),
		capacity: capacity,
	}
}

// Append stores one record, evicting the oldest when full
func (s *MemoryStore) Append(_ context.Context, record *TraceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[s.next] = record
	s.next = (s.next + 1) % s.capacity
	if s.size < s.capacity {
		s.size++
	}
	return nil
}

// Recent returns up to n records, newest first
func (s *MemoryStore) Recent(_ context.Context, n int) ([]*TraceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.size {
		n = s.size
	}
	out := make([]*TraceRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + s.capacity) % s.capacity
		out = append(out, s.records[idx])
	}
	return out, nil
}

// Close is a no-op for the memory backend
func (s *MemoryStore) Close() error { return nil }
