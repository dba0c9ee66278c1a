// Package cache provides a TTL result cache with a periodic sweeper.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ashwin-z/savereelify.com/internal/clock/system"
	"github.com/Ashwin-z/savereelify.com/internal/media"
	"github.com/Ashwin-z/savereelify.com/internal/metrics"
)

// DefaultTTL is used when no TTL is configured.
const DefaultTTL = 10 * time.Minute

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Store is a key/value cache whose entries stop being served once they are TTL
// old. Expired entries linger until Sweep removes them.
type Store[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
	clock   media.Clock
	logger  *zap.Logger
}

// New constructs a Store. A non-positive ttl falls back to DefaultTTL and a
// nil clock uses wall time.
func New[V any](ttl time.Duration, clock media.Clock, logger *zap.Logger) *Store[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
	}
}

// TTL returns the freshness window of the store.
func (s *Store[V]) TTL() time.Duration {
	return s.ttl
}

// Get returns the value for key when it is still fresh. Stale entries are
// reported as absent but left in place.
func (s *Store[V]) Get(key string) (V, bool) {
	now := s.clock.Now()
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || !s.fresh(e, now) {
		metrics.ObserveCacheLookup(false)
		var zero V
		return zero, false
	}
	metrics.ObserveCacheLookup(true)
	return e.value, true
}

// Put stores value under key, replacing any previous entry.
func (s *Store[V]) Put(key string, value V) {
	now := s.clock.Now()
	s.mu.Lock()
	s.entries[key] = entry[V]{value: value, storedAt: now}
	s.mu.Unlock()
}

// Sweep deletes every entry Get would no longer serve and returns how many
// were removed.
func (s *Store[V]) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.entries {
		if !s.fresh(e, now) {
			delete(s.entries, key)
			removed++
		}
	}
	metrics.ObserveCacheEvictions(removed)
	return removed
}

// Len reports the number of stored entries, stale ones included.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Run sweeps every TTL until ctx is canceled.
func (s *Store[V]) Run(ctx context.Context) {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("cache sweep", zap.Int("removed", n), zap.Int("remaining", s.Len()))
			}
		}
	}
}

// fresh is the single staleness test shared by Get and Sweep.
func (s *Store[V]) fresh(e entry[V], now time.Time) bool {
	return now.Sub(e.storedAt) < s.ttl
}
