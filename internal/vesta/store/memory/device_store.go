package memory

import (
	"context"
	"strings"
	"sync"
	"time"
)

type DeviceStore struct {
	mu    sync.RWMutex
	known map[string]struct{}
	seen  map[string]time.Time
}

func NewDeviceStore(knownDevices []string) *DeviceStore {
	k := make(map[string]struct{}, len(knownDevices))
	for _, d := range knownDevices {
		d = strings.TrimSpace(d)
		if d != "" {
			k[d] = struct{}{}
		}
	}
	return &DeviceStore{
		known: k,
		seen:  make(map[string]time.Time),
	}
}

func (s *DeviceStore) IsKnown(_ context.Context, deviceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.known[deviceID]
	return ok, nil
}

func (s *DeviceStore) MarkSeen(_ context.Context, deviceID string, _ bool, t time.Time) error {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[deviceID] = t
	return nil
}

// LastSeen returns when deviceID was last marked seen.  Test-only helper.
func (s *DeviceStore) LastSeen(deviceID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.seen[deviceID]
	return t, ok
}
