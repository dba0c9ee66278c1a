// Package memory holds in-process implementations of the storage interfaces.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/Ashwin-z/savereelify.com/internal/media"
)

// DefaultCapacity bounds how many fetch records are retained.
const DefaultCapacity = 1000

// FetchStore keeps the most recent fetch records in a ring.
type FetchStore struct {
	mu    sync.RWMutex
	ring  []media.FetchRecord
	next  int
	full  bool
	total int64
}

// NewFetchStore constructs a FetchStore retaining up to capacity records.
func NewFetchStore(capacity int) *FetchStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &FetchStore{ring: make([]media.FetchRecord, capacity)}
}

// SaveFetch stores rec, evicting the oldest record when full.
func (s *FetchStore) SaveFetch(_ context.Context, rec media.FetchRecord) error {
	if rec.URL == "" {
		return errors.New("fetch record url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = rec
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	s.total++
	return nil
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns everything retained.
func (s *FetchStore) Recent(limit int) []media.FetchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.next
	if s.full {
		n = len(s.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]media.FetchRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out
}

// Total reports how many records were ever saved.
func (s *FetchStore) Total() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}
