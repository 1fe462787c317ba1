package store

import (
	"context"
	"time"
)

// DedupeStore records which alert keys were sent recently.
type DedupeStore interface {
	// Reserve claims key for window starting at now.  It returns false if
	// the key is already held by an unexpired reservation.
	Reserve(ctx context.Context, key string, window time.Duration, now time.Time) (bool, error)
}

// Pruner is implemented by dedupe stores that need expired reservations
// removed explicitly.
type Pruner interface {
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}
