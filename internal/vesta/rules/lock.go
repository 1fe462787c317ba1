package rules

import (
	"time"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// LockPolicy configures failed-attempt lockout.
type LockPolicy struct {
	// Threshold is the failed-attempt count that triggers a lockout.
	Threshold uint
	// LockoutDuration is how long attempts are refused after a lockout.
	LockoutDuration time.Duration
}

// LockResult is the outcome of evaluating one lock or door event.
type LockResult struct {
	State   types.LockState
	Entries []types.DoorLogEntry
	Alerts  []types.AlertRecord
	// Rejected is set when an attempt arrived during an active lockout.
	// State is then unchanged and there are no entries or alerts.
	Rejected bool
}

// EvaluateAttempt applies an unlock attempt to s, judging lockout at the
// event's own time.  See EvaluateAttemptAt.
func EvaluateAttempt(p LockPolicy, s types.LockState, ev types.LockEvent) LockResult {
	return EvaluateAttemptAt(p, s, ev, ev.At)
}

// EvaluateAttemptAt applies an unlock attempt to s.
//
// Lockout is started and expired on the later of ev.At and receivedAt, so
// a report whose clock lags the server cannot end a lockout early.  The
// lockout ends on the first attempt observed after LockoutUntil.  The
// failed counter only resets on a successful credential, which means the
// first failure after an expired lockout immediately locks the device out
// again.  Door log entries carry the event time.
func EvaluateAttemptAt(p LockPolicy, s types.LockState, ev types.LockEvent, receivedAt time.Time) LockResult {
	now := latest(ev.At, receivedAt)

	if s.LockedOutAt(now) {
		return LockResult{State: s, Rejected: true}
	}

	next := s.Clone()
	next.DeviceID = ev.DeviceID
	next.LastEventAt = latest(s.LastEventAt, ev.At)
	if next.LockoutUntil != nil {
		// Expired lockout: evaluate as Locked.
		next.LockoutUntil = nil
		next.Locked = true
	}

	if ev.Result == types.AttemptSuccess {
		next.Locked = false
		next.FailedAttempts = 0
		return LockResult{
			State:   next,
			Entries: []types.DoorLogEntry{entry(next, types.DoorLockAttemptSucceeded, ev.At)},
		}
	}

	next.FailedAttempts++
	if next.FailedAttempts < p.Threshold {
		return LockResult{
			State:   next,
			Entries: []types.DoorLogEntry{entry(next, types.DoorLockAttemptFailed, ev.At)},
		}
	}

	until := now.Add(p.LockoutDuration)
	next.LockoutUntil = &until
	next.Locked = true

	e := entry(next, types.DoorLockedOut, ev.At)
	alert := types.NewAlert(next.DeviceID, types.AlertLockedOutNotice, ev.At)
	alert.TriggeringEntry = &e

	return LockResult{
		State:   next,
		Entries: []types.DoorLogEntry{e},
		Alerts:  []types.AlertRecord{alert},
	}
}

// EvaluateDoor applies a door open/close report to s at the event's own
// time.  See EvaluateDoorAt.
func EvaluateDoor(s types.LockState, ev types.DoorEvent) LockResult {
	return EvaluateDoorAt(s, ev, ev.At)
}

// EvaluateDoorAt applies a door open/close report to s.
//
// Closing an unlocked door locks it.  Opening a door that is not unlocked
// is recorded and raises an intrusion alert.
func EvaluateDoorAt(s types.LockState, ev types.DoorEvent, receivedAt time.Time) LockResult {
	now := ev.At
	before := s.Status(latest(now, receivedAt))

	next := s.Clone()
	next.DeviceID = ev.DeviceID
	next.LastEventAt = latest(s.LastEventAt, now)

	switch ev.Action {
	case types.DoorActionClosed:
		if before == types.LockStatusUnlocked {
			next.Locked = true
		}
		return LockResult{
			State:   next,
			Entries: []types.DoorLogEntry{entry(next, types.DoorClosed, now)},
		}

	default: // opened
		e := entry(next, types.DoorOpened, now)
		res := LockResult{State: next, Entries: []types.DoorLogEntry{e}}
		if before != types.LockStatusUnlocked {
			alert := types.NewAlert(next.DeviceID, types.AlertIntrusionSuspected, now)
			alert.TriggeringEntry = &e
			res.Alerts = []types.AlertRecord{alert}
		}
		return res
	}
}

func entry(s types.LockState, kind types.DoorEventKind, at time.Time) types.DoorLogEntry {
	return types.DoorLogEntry{
		DeviceID:  s.DeviceID,
		Event:     kind,
		Status:    s.Status(at),
		Timestamp: at,
	}
}

// latest keeps lastEventAt from moving backwards when a report arrives
// out of order within the skew tolerance.
func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
