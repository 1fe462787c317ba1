package memory

import (
	"context"
	"sync"
	"time"
)

// DedupeStore holds alert reservations in memory.  Expired entries are
// ignored by Reserve and removed by PruneExpired.
type DedupeStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func NewDedupeStore() *DedupeStore {
	return &DedupeStore{expires: make(map[string]time.Time)}
}

func (s *DedupeStore) Reserve(_ context.Context, key string, window time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[key] = now.Add(window)
	return true, nil
}

func (s *DedupeStore) PruneExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of held reservations.  Test-only helper.
func (s *DedupeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}
