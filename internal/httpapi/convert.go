package httpapi

import (
	"time"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/service"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

type reportResponse struct {
	OK         bool              `json:"ok"`
	Reason     string            `json:"reason,omitempty"`
	DeviceID   string            `json:"device_id"`
	Type       string            `json:"type"`
	Lock       *lockView         `json:"lock,omitempty"`
	Gas        *gasView          `json:"gas,omitempty"`
	Entries    []doorEntryView   `json:"entries,omitempty"`
	Alerts     []types.AlertKind `json:"alerts,omitempty"`
	ServerTime string            `json:"server_time"`
}

type lockView struct {
	DeviceID       string `json:"device_id"`
	Status         string `json:"status"`
	Locked         bool   `json:"locked"`
	FailedAttempts uint   `json:"failed_attempts"`
	LastEventAt    string `json:"last_event_at,omitempty"`
	LockoutUntil   string `json:"lockout_until,omitempty"`
}

type gasView struct {
	DeviceID    string  `json:"device_id"`
	Status      string  `json:"status"`
	LastValue   float64 `json:"last_value"`
	StatusSince string  `json:"status_since,omitempty"`
	LastEventAt string  `json:"last_event_at,omitempty"`
	FanOn       bool    `json:"fan_on"`
}

type doorEntryView struct {
	Seq       uint64 `json:"seq"`
	Event     string `json:"event"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type doorLogView struct {
	DeviceID string          `json:"device_id"`
	Entries  []doorEntryView `json:"entries"`
}

func reportResponseFrom(raw types.RawReport, out service.Outcome, now time.Time) reportResponse {
	resp := reportResponse{
		OK:         true,
		DeviceID:   raw.DeviceID,
		Type:       raw.Type,
		ServerTime: now.Format(time.RFC3339Nano),
	}
	if out.Event != nil {
		resp.DeviceID = out.Event.Device()
	}
	if out.Lock != nil {
		v := lockViewFrom(*out.Lock, now)
		resp.Lock = &v
	}
	if out.Gas != nil {
		v := gasViewFrom(*out.Gas)
		resp.Gas = &v
	}
	for _, e := range out.Entries {
		resp.Entries = append(resp.Entries, doorEntryViewFrom(e))
	}
	for _, a := range out.Alerts {
		resp.Alerts = append(resp.Alerts, a.Kind)
	}
	return resp
}

func lockViewFrom(st types.LockState, now time.Time) lockView {
	v := lockView{
		DeviceID:       st.DeviceID,
		Status:         string(st.Status(now)),
		Locked:         st.Locked,
		FailedAttempts: st.FailedAttempts,
		LastEventAt:    formatTime(st.LastEventAt),
	}
	if st.LockoutUntil != nil {
		v.LockoutUntil = formatTime(*st.LockoutUntil)
	}
	return v
}

func gasViewFrom(st types.GasReadingState) gasView {
	return gasView{
		DeviceID:    st.DeviceID,
		Status:      string(st.Status),
		LastValue:   st.LastValue,
		StatusSince: formatTime(st.StatusSince),
		LastEventAt: formatTime(st.LastEventAt),
		FanOn:       st.FanOn,
	}
}

func doorEntryViewFrom(e types.DoorLogEntry) doorEntryView {
	return doorEntryView{
		Seq:       e.Seq,
		Event:     string(e.Event),
		Status:    string(e.Status),
		Timestamp: formatTime(e.Timestamp),
	}
}

func doorLogViewFrom(deviceID string, entries []types.DoorLogEntry) doorLogView {
	v := doorLogView{DeviceID: deviceID, Entries: make([]doorEntryView, 0, len(entries))}
	for _, e := range entries {
		v.Entries = append(v.Entries, doorEntryViewFrom(e))
	}
	return v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
