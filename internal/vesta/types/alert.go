package types

import "time"

// AlertKind enumerates notifications the engine can raise.
type AlertKind string

const (
	AlertFanOn              AlertKind = "fan_on"
	AlertFanOff             AlertKind = "fan_off"
	AlertLockedOutNotice    AlertKind = "locked_out_notice"
	AlertIntrusionSuspected AlertKind = "intrusion_suspected"
)

// AlertRecord is an alert intent.  It is never persisted; the dispatcher
// uses DedupeKey to suppress repeats within a window.
type AlertRecord struct {
	ID              string        `json:"id"`
	DeviceID        string        `json:"device_id"`
	Kind            AlertKind     `json:"kind"`
	TriggeringEntry *DoorLogEntry `json:"triggering_entry,omitempty"`
	Reading         *float64      `json:"reading,omitempty"`
	DedupeKey       string        `json:"dedupe_key"`
	RaisedAt        time.Time     `json:"raised_at"`
}

// DedupeKey is the suppression key for an alert of kind on deviceID.
func DedupeKey(deviceID string, kind AlertKind) string {
	return deviceID + "|" + string(kind)
}

// NewAlert builds an alert with its dedupe key filled in.
func NewAlert(deviceID string, kind AlertKind, at time.Time) AlertRecord {
	return AlertRecord{
		DeviceID:  deviceID,
		Kind:      kind,
		DedupeKey: DedupeKey(deviceID, kind),
		RaisedAt:  at,
	}
}
