package types

import "time"

// LockStatus is the derived state of a door lock at a point in time.
type LockStatus string

const (
	LockStatusLocked    LockStatus = "locked"
	LockStatusUnlocked  LockStatus = "unlocked"
	LockStatusLockedOut LockStatus = "locked_out"
)

// LockState is the authoritative state of one electronic door lock.
type LockState struct {
	DeviceID       string
	Locked         bool
	FailedAttempts uint
	LastEventAt    time.Time
	LockoutUntil   *time.Time
}

// DefaultLockState is the state a lock is provisioned with on first sight.
func DefaultLockState(deviceID string) LockState {
	return LockState{DeviceID: deviceID, Locked: true}
}

// LockedOutAt reports whether unlock attempts are refused at now.
func (s LockState) LockedOutAt(now time.Time) bool {
	return s.LockoutUntil != nil && now.Before(*s.LockoutUntil)
}

// Status derives the lock status at now.  Lockout expiry is evaluated
// lazily here; nothing clears LockoutUntil in the background.
func (s LockState) Status(now time.Time) LockStatus {
	switch {
	case s.LockedOutAt(now):
		return LockStatusLockedOut
	case s.Locked:
		return LockStatusLocked
	default:
		return LockStatusUnlocked
	}
}

// Clone returns a copy that shares no pointers with s.
func (s LockState) Clone() LockState {
	if s.LockoutUntil != nil {
		t := *s.LockoutUntil
		s.LockoutUntil = &t
	}
	return s
}

// GasStatus is the hysteresis classification of a gas sensor.
type GasStatus string

const (
	GasStatusNormal  GasStatus = "normal"
	GasStatusWarning GasStatus = "warning"
)

// GasReadingState is the authoritative state of one gas sensor.
type GasReadingState struct {
	DeviceID    string
	LastValue   float64
	Status      GasStatus
	StatusSince time.Time
	LastEventAt time.Time
	// FanOn records whether the last transition required the fan running.
	FanOn bool
}

// DefaultGasState is the state a gas sensor is provisioned with on first sight.
func DefaultGasState(deviceID string) GasReadingState {
	return GasReadingState{DeviceID: deviceID, Status: GasStatusNormal}
}

// FanCommand asks the fan attached to a gas sensor to switch on or off.
type FanCommand struct {
	DeviceID string
	On       bool
}
