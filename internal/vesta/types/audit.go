package types

import "time"

// DoorEventKind enumerates the events recorded in the door log.
type DoorEventKind string

const (
	DoorOpened               DoorEventKind = "opened"
	DoorClosed               DoorEventKind = "closed"
	DoorLockAttemptFailed    DoorEventKind = "lock_attempt_failed"
	DoorLockAttemptSucceeded DoorEventKind = "lock_attempt_succeeded"
	DoorLockedOut            DoorEventKind = "locked_out"
)

// Valid reports whether k is a known door event kind.
func (k DoorEventKind) Valid() bool {
	switch k {
	case DoorOpened, DoorClosed, DoorLockAttemptFailed, DoorLockAttemptSucceeded, DoorLockedOut:
		return true
	}
	return false
}

// DoorLogEntry is an immutable audit record.  Seq is assigned by the store on
// append and is strictly increasing per device in arrival order.
type DoorLogEntry struct {
	DeviceID  string
	Event     DoorEventKind
	Status    LockStatus
	Timestamp time.Time
	Seq       uint64
}
