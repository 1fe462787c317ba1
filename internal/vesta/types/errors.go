package types

import "errors"

var (
	// ErrValidation marks a malformed report.  Nothing is applied.
	ErrValidation = errors.New("invalid report")
	// ErrStaleEvent marks a report older than the device's last event by
	// more than the skew tolerance.  Nothing is applied.
	ErrStaleEvent = errors.New("stale event")
	// ErrUnknownDevice is returned in strict mode for unregistered devices.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrLockedOut rejects an unlock attempt during an active lockout.
	// Nothing is applied and nothing is logged to the door log.
	ErrLockedOut = errors.New("device locked out")
	// ErrInvalidReading marks an out-of-domain sensor value.
	ErrInvalidReading = errors.New("invalid reading")
	// ErrStorage marks a failed persistence call.  The event was not
	// applied and the whole ingest may be retried.
	ErrStorage = errors.New("storage error")
	// ErrDispatch marks an alert that could not be queued or delivered.
	// It never reaches callers of ingest.
	ErrDispatch = errors.New("dispatch error")
)
