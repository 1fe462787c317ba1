package service

import (
	"context"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// AuditLog fronts the door log store.  Entries produced by a state
// transition reach the store through StateStore.Commit; Validate is the
// check they pass first.
type AuditLog struct {
	store store.DoorLogStore
}

func NewAuditLog(s store.DoorLogStore) *AuditLog {
	return &AuditLog{store: s}
}

// Validate rejects entries the log must never hold.
func (a *AuditLog) Validate(entries []types.DoorLogEntry) error {
	for i, e := range entries {
		switch {
		case e.DeviceID == "":
			return fmt.Errorf("%w: door log entry %d has no device", types.ErrValidation, i)
		case !e.Event.Valid():
			return fmt.Errorf("%w: door log entry %d has event %q", types.ErrValidation, i, e.Event)
		case e.Status == "":
			return fmt.Errorf("%w: door log entry %d has no status", types.ErrValidation, i)
		case e.Timestamp.IsZero():
			return fmt.Errorf("%w: door log entry %d has no timestamp", types.ErrValidation, i)
		}
	}
	return nil
}

// Append writes a single entry outside of a state transition.
func (a *AuditLog) Append(ctx context.Context, e types.DoorLogEntry) (types.DoorLogEntry, error) {
	if err := a.Validate([]types.DoorLogEntry{e}); err != nil {
		return types.DoorLogEntry{}, err
	}
	stored, err := a.store.Append(ctx, e)
	if err != nil {
		return types.DoorLogEntry{}, fmt.Errorf("%w: append door log: %v", types.ErrStorage, err)
	}
	return stored, nil
}

// QueryByDevice returns entries in arrival order.  Zero bounds are open.
func (a *AuditLog) QueryByDevice(ctx context.Context, deviceID string, from, to time.Time) ([]types.DoorLogEntry, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fmt.Errorf("%w: range end %s is before start %s",
			types.ErrValidation, to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	entries, err := a.store.QueryByDevice(ctx, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: query door log: %v", types.ErrStorage, err)
	}
	return entries, nil
}
