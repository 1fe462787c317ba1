package rules

import (
	"fmt"
	"math"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// GasPolicy is the hysteresis band of the gas monitor.  High must be
// greater than Low.
type GasPolicy struct {
	Low  float64
	High float64
}

// GasResult is the outcome of evaluating one reading.
type GasResult struct {
	State  types.GasReadingState
	Alerts []types.AlertRecord
	// Fan is set only on a Normal/Warning transition.
	Fan *types.FanCommand
}

// ValidateReading rejects values no sensor can produce.
func ValidateReading(v float64) error {
	switch {
	case math.IsNaN(v), math.IsInf(v, 0):
		return fmt.Errorf("%w: %v", types.ErrInvalidReading, v)
	case v < 0:
		return fmt.Errorf("%w: negative value %v", types.ErrInvalidReading, v)
	}
	return nil
}

// EvaluateReading applies a reading to s.
//
// Normal becomes Warning when value >= High; Warning becomes Normal when
// value <= Low.  Anything in between keeps the current status, so readings
// that hover around one threshold never toggle the fan.
func EvaluateReading(p GasPolicy, s types.GasReadingState, ev types.GasEvent) (GasResult, error) {
	if err := ValidateReading(ev.Value); err != nil {
		return GasResult{State: s}, err
	}

	next := s
	next.DeviceID = ev.DeviceID
	next.LastValue = ev.Value
	next.LastEventAt = latest(s.LastEventAt, ev.At)
	if next.Status == "" {
		next.Status = types.GasStatusNormal
	}
	if next.StatusSince.IsZero() {
		next.StatusSince = ev.At
	}

	var to types.GasStatus
	switch {
	case next.Status == types.GasStatusNormal && ev.Value >= p.High:
		to = types.GasStatusWarning
	case next.Status == types.GasStatusWarning && ev.Value <= p.Low:
		to = types.GasStatusNormal
	default:
		return GasResult{State: next}, nil
	}

	next.Status = to
	next.StatusSince = ev.At
	next.FanOn = to == types.GasStatusWarning

	kind := types.AlertFanOff
	if next.FanOn {
		kind = types.AlertFanOn
	}
	alert := types.NewAlert(next.DeviceID, kind, ev.At)
	v := ev.Value
	alert.Reading = &v

	return GasResult{
		State:  next,
		Alerts: []types.AlertRecord{alert},
		Fan:    &types.FanCommand{DeviceID: next.DeviceID, On: next.FanOn},
	}, nil
}
