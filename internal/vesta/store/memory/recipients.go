package memory

import (
	"context"
	"sync"
)

// RecipientDirectory maps devices to alert recipients.
type RecipientDirectory struct {
	mu   sync.RWMutex
	byID map[string][]string
}

func NewRecipientDirectory(seed map[string][]string) *RecipientDirectory {
	d := &RecipientDirectory{byID: make(map[string][]string, len(seed))}
	for id, rs := range seed {
		d.byID[id] = append([]string(nil), rs...)
	}
	return d
}

func (d *RecipientDirectory) Recipients(_ context.Context, deviceID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.byID[deviceID]...), nil
}

// Set replaces the recipients of deviceID.
func (d *RecipientDirectory) Set(deviceID string, recipients []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[deviceID] = append([]string(nil), recipients...)
}
