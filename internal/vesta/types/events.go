package types

import "time"

// AttemptResult is the outcome of presenting a credential to a lock.
type AttemptResult string

const (
	AttemptSuccess AttemptResult = "success"
	AttemptFailure AttemptResult = "failure"
)

// DoorAction is a physical door movement reported by a lock.
type DoorAction string

const (
	DoorActionOpened DoorAction = "opened"
	DoorActionClosed DoorAction = "closed"
)

// DomainEvent is a validated, timestamped device report.  It is one of
// LockEvent, GasEvent or DoorEvent.
type DomainEvent interface {
	Device() string
	OccurredAt() time.Time
	domainEvent()
}

// LockEvent is an unlock attempt.
type LockEvent struct {
	DeviceID string
	Result   AttemptResult
	At       time.Time
}

// GasEvent is a gas sensor reading.
type GasEvent struct {
	DeviceID string
	Value    float64
	At       time.Time
}

// DoorEvent is a door open/close report from a lock.
type DoorEvent struct {
	DeviceID string
	Action   DoorAction
	At       time.Time
}

func (e LockEvent) Device() string        { return e.DeviceID }
func (e LockEvent) OccurredAt() time.Time { return e.At }
func (LockEvent) domainEvent()            {}

func (e GasEvent) Device() string        { return e.DeviceID }
func (e GasEvent) OccurredAt() time.Time { return e.At }
func (GasEvent) domainEvent()            {}

func (e DoorEvent) Device() string        { return e.DeviceID }
func (e DoorEvent) OccurredAt() time.Time { return e.At }
func (DoorEvent) domainEvent()            {}
