package mqtt

import (
	"strings"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

const defaultTopicPrefix = "vesta"

// Topics builds topic names under a common prefix.
type Topics struct {
	prefix string
}

func NewTopics(prefix string) Topics {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// DeviceReport is where a device publishes reports of one type.
//
// Example: vesta/devices/door-001/lock
func (t Topics) DeviceReport(deviceID, reportType string) string {
	return t.prefix + "/devices/" + deviceID + "/" + reportType
}

// AllReports matches every device report.
func (t Topics) AllReports() string {
	return t.prefix + "/devices/+/+"
}

// FanSet carries retained fan commands for a gas sensor's fan.
//
// Example: vesta/devices/gas-kitchen/fan/set
func (t Topics) FanSet(deviceID string) string {
	return t.prefix + "/devices/" + deviceID + "/fan/set"
}

// Notify is the push-notification topic of one recipient.
func (t Topics) Notify(recipient string) string {
	return t.prefix + "/notify/" + recipient
}

func (t Topics) ServerStatus() string {
	return t.prefix + "/system/status"
}

// ParseReport extracts the device id and report type from a report topic.
func (t Topics) ParseReport(topic string) (deviceID, reportType string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix+"/devices/")
	if !found {
		return "", "", false
	}
	deviceID, reportType, found = strings.Cut(rest, "/")
	if !found || deviceID == "" || strings.Contains(reportType, "/") {
		return "", "", false
	}
	switch reportType {
	case types.ReportLock, types.ReportGas, types.ReportDoor:
		return deviceID, reportType, true
	}
	return "", "", false
}
