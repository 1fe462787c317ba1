package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// Commit is the unit applied for one event: the new device state plus the
// door log entries the transition produced.  Exactly one of Lock or Gas is
// set.
type Commit struct {
	Lock    *types.LockState
	Gas     *types.GasReadingState
	Entries []types.DoorLogEntry
}

// StateStore persists per-device state keyed by device id.
type StateStore interface {
	LoadLock(ctx context.Context, deviceID string) (types.LockState, bool, error)
	LoadGas(ctx context.Context, deviceID string) (types.GasReadingState, bool, error)

	// Commit applies c atomically: either the state and every entry are
	// written, or nothing is.  It returns the entries with Seq assigned.
	Commit(ctx context.Context, c Commit) ([]types.DoorLogEntry, error)
}

// SeenOnCommit is implemented by state stores whose Commit also records
// the device as seen, in the same transaction.  DeviceStore.MarkSeen is
// then not called per event.
type SeenOnCommit interface {
	MarksSeenOnCommit() bool
}

// DoorLogStore is the append-only door log.  Seq is strictly increasing per
// device in append order; entries are never rewritten or removed.
type DoorLogStore interface {
	Append(ctx context.Context, e types.DoorLogEntry) (types.DoorLogEntry, error)

	// QueryByDevice returns entries with from <= Timestamp <= to in Seq
	// order.  A zero from or to leaves that side unbounded.
	QueryByDevice(ctx context.Context, deviceID string, from, to time.Time) ([]types.DoorLogEntry, error)
}
