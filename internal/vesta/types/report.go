package types

// Report types accepted on the wire.
const (
	ReportLock = "lock"
	ReportGas  = "gas"
	ReportDoor = "door"
)

// RawReport is a device report as received from HTTP or MQTT, before
// validation.  Which optional fields are required depends on Type.
type RawReport struct {
	DeviceID  string   `json:"device_id"`
	Type      string   `json:"type"`
	Timestamp string   `json:"timestamp,omitempty"` // RFC3339; server time when empty
	Value     *float64 `json:"value,omitempty"`     // gas
	Result    string   `json:"result,omitempty"`    // lock: success | failure
	Event     string   `json:"event,omitempty"`     // door: opened | closed
}
