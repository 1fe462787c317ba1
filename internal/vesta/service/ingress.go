package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/rules"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// Ingress turns raw device reports into domain events.  It has no side
// effects.
type Ingress struct {
	skew time.Duration
}

func NewIngress(skewTolerance time.Duration) *Ingress {
	if skewTolerance < 0 {
		skewTolerance = 0
	}
	return &Ingress{skew: skewTolerance}
}

// Normalize validates raw.  receivedAt stands in for a missing timestamp
// and bounds a given one: a report dated more than the skew tolerance
// ahead of it is rejected.
func (in *Ingress) Normalize(raw types.RawReport, receivedAt time.Time) (types.DomainEvent, error) {
	deviceID := strings.TrimSpace(raw.DeviceID)
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", types.ErrValidation)
	}

	at, err := parseTimestamp(raw.Timestamp, receivedAt)
	if err != nil {
		return nil, err
	}
	if limit := receivedAt.Add(in.skew); at.After(limit) {
		return nil, fmt.Errorf("%w: timestamp %s is ahead of server time %s",
			types.ErrValidation, at.Format(time.RFC3339Nano), receivedAt.UTC().Format(time.RFC3339Nano))
	}

	switch strings.ToLower(strings.TrimSpace(raw.Type)) {
	case types.ReportLock:
		res := types.AttemptResult(strings.ToLower(strings.TrimSpace(raw.Result)))
		if res != types.AttemptSuccess && res != types.AttemptFailure {
			return nil, fmt.Errorf("%w: result must be success or failure, got %q", types.ErrValidation, raw.Result)
		}
		return types.LockEvent{DeviceID: deviceID, Result: res, At: at}, nil

	case types.ReportGas:
		if raw.Value == nil {
			return nil, fmt.Errorf("%w: value is required for gas reports", types.ErrValidation)
		}
		if err := rules.ValidateReading(*raw.Value); err != nil {
			return nil, err
		}
		return types.GasEvent{DeviceID: deviceID, Value: *raw.Value, At: at}, nil

	case types.ReportDoor:
		act := types.DoorAction(strings.ToLower(strings.TrimSpace(raw.Event)))
		if act != types.DoorActionOpened && act != types.DoorActionClosed {
			return nil, fmt.Errorf("%w: event must be opened or closed, got %q", types.ErrValidation, raw.Event)
		}
		return types.DoorEvent{DeviceID: deviceID, Action: act, At: at}, nil

	case "":
		return nil, fmt.Errorf("%w: type is required", types.ErrValidation)

	default:
		return nil, fmt.Errorf("%w: unknown report type %q", types.ErrValidation, raw.Type)
	}
}

// Admit applies the stale-report guard.  A device with no prior event
// admits everything.
func (in *Ingress) Admit(ev types.DomainEvent, lastEventAt time.Time) error {
	if lastEventAt.IsZero() {
		return nil
	}
	if ev.OccurredAt().Before(lastEventAt.Add(-in.skew)) {
		return fmt.Errorf("%w: %s at %s is older than last event %s",
			types.ErrStaleEvent, ev.Device(),
			ev.OccurredAt().Format(time.RFC3339Nano), lastEventAt.Format(time.RFC3339Nano))
	}
	return nil
}

func parseTimestamp(s string, fallback time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q is not RFC3339", types.ErrValidation, s)
	}
	return t.UTC(), nil
}
