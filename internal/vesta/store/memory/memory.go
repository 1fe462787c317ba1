package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// Store keeps device state and the door log in memory.  It is intended for
// tests and dev environments.
type Store struct {
	mu      sync.RWMutex
	locks   map[string]types.LockState
	gas     map[string]types.GasReadingState
	log     map[string][]types.DoorLogEntry
	failErr error
}

func New() *Store {
	return &Store{
		locks: make(map[string]types.LockState),
		gas:   make(map[string]types.GasReadingState),
		log:   make(map[string][]types.DoorLogEntry),
	}
}

func (s *Store) LoadLock(_ context.Context, deviceID string) (types.LockState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.locks[deviceID]
	return st.Clone(), ok, nil
}

func (s *Store) LoadGas(_ context.Context, deviceID string) (types.GasReadingState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.gas[deviceID]
	return st, ok, nil
}

func (s *Store) Commit(_ context.Context, c store.Commit) ([]types.DoorLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return nil, s.failErr
	}

	out := make([]types.DoorLogEntry, 0, len(c.Entries))
	for _, e := range c.Entries {
		out = append(out, s.appendLocked(e))
	}
	if c.Lock != nil {
		s.locks[c.Lock.DeviceID] = c.Lock.Clone()
	}
	if c.Gas != nil {
		s.gas[c.Gas.DeviceID] = *c.Gas
	}
	return out, nil
}

func (s *Store) Append(_ context.Context, e types.DoorLogEntry) (types.DoorLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return types.DoorLogEntry{}, s.failErr
	}
	return s.appendLocked(e), nil
}

func (s *Store) appendLocked(e types.DoorLogEntry) types.DoorLogEntry {
	entries := s.log[e.DeviceID]
	e.Seq = uint64(len(entries)) + 1
	s.log[e.DeviceID] = append(entries, e)
	return e
}

func (s *Store) QueryByDevice(_ context.Context, deviceID string, from, to time.Time) ([]types.DoorLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.DoorLogEntry, 0, len(s.log[deviceID]))
	for _, e := range s.log[deviceID] {
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// SetCommitError makes every later Commit and Append fail with err until it
// is reset with nil.  Test-only helper.
func (s *Store) SetCommitError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}
