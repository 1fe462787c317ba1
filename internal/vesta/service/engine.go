package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Vesta/server/internal/logger"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/rules"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// Actuator switches the fan attached to a gas sensor.  It is called with
// the device lock held and must not block on the network.
type Actuator interface {
	SetFan(ctx context.Context, cmd types.FanCommand) error
}

// ReadingRecorder receives every accepted gas reading after commit.  at is
// the reading's own time, which may precede st.LastEventAt.
type ReadingRecorder interface {
	RecordReading(ctx context.Context, st types.GasReadingState, at time.Time)
}

// AlertSink accepts alerts for asynchronous delivery.
type AlertSink interface {
	Dispatch(ctx context.Context, a types.AlertRecord) error
}

type EngineConfig struct {
	Lock          rules.LockPolicy
	Gas           rules.GasPolicy
	SkewTolerance time.Duration
	// Clock is the server's receive time.  Defaults to time.Now in UTC.
	Clock func() time.Time
}

// EngineDeps are the collaborators of an Engine.  Alerts, Actuator and
// Recorder may be nil.
type EngineDeps struct {
	Registry *DeviceRegistry
	States   store.StateStore
	Audit    *AuditLog
	Alerts   AlertSink
	Actuator Actuator
	Recorder ReadingRecorder
}

// Outcome describes what one ingested report did.
type Outcome struct {
	Event    types.DomainEvent
	Lock     *types.LockState
	Gas      *types.GasReadingState
	Entries  []types.DoorLogEntry
	Alerts   []types.AlertRecord
	Fan      *types.FanCommand
	Rejected bool
}

// Engine runs the ingest pipeline.  Events for one device are serialised;
// different devices proceed in parallel.  State and door log entries for
// an event are committed together before any alert leaves the engine.
type Engine struct {
	cfg      EngineConfig
	ingress  *Ingress
	registry *DeviceRegistry
	states   store.StateStore
	audit    *AuditLog
	alerts   AlertSink
	actuator Actuator
	recorder ReadingRecorder
	locks    *keyLock
	now      func() time.Time
	// seenOnCommit skips DeviceStore.MarkSeen when Commit already did it.
	seenOnCommit bool
}

func NewEngine(cfg EngineConfig, deps EngineDeps) *Engine {
	now := cfg.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	var seenOnCommit bool
	if sc, ok := deps.States.(store.SeenOnCommit); ok {
		seenOnCommit = sc.MarksSeenOnCommit()
	}

	return &Engine{
		cfg:      cfg,
		ingress:  NewIngress(cfg.SkewTolerance),
		registry: deps.Registry,
		states:   deps.States,
		audit:    deps.Audit,
		alerts:   deps.Alerts,
		actuator: deps.Actuator,
		recorder: deps.Recorder,
		locks:    newKeyLock(),
		now:      now,

		seenOnCommit: seenOnCommit,
	}
}

// Ingest validates raw, applies it to the device's state machine, commits
// the result and hands any alerts to the dispatcher.
//
// A returned error wrapping types.ErrStorage means nothing was applied and
// the call may be retried.  Dispatch failures are logged, never returned.
func (e *Engine) Ingest(ctx context.Context, raw types.RawReport) (Outcome, error) {
	receivedAt := e.now()
	ev, err := e.ingress.Normalize(raw, receivedAt)
	if err != nil {
		return Outcome{}, err
	}

	ctx = logger.WithKV(ctx, "device_id", ev.Device())

	var out Outcome
	switch ev := ev.(type) {
	case types.LockEvent:
		out, err = e.applyLock(ctx, ev, receivedAt)
	case types.DoorEvent:
		out, err = e.applyLock(ctx, ev, receivedAt)
	case types.GasEvent:
		out, err = e.applyGas(ctx, ev)
	default:
		return Outcome{}, fmt.Errorf("%w: unsupported event %T", types.ErrValidation, ev)
	}
	out.Event = ev

	switch {
	case errors.Is(err, types.ErrStaleEvent):
		logger.DebugKV(ctx, "stale event discarded", "error", err)
		return out, err
	case errors.Is(err, types.ErrStorage):
		logger.ErrorKV(ctx, "event not applied", "error", err)
		return out, err
	case err != nil:
		return out, err
	}

	if !e.seenOnCommit {
		if err := e.registry.NoteSeen(ctx, ev.Device(), true); err != nil {
			logger.DebugKV(ctx, "note seen failed", "error", err)
		}
	}
	if out.Gas != nil && e.recorder != nil {
		e.recorder.RecordReading(ctx, *out.Gas, ev.OccurredAt())
	}
	e.dispatch(ctx, out.Alerts)

	return out, nil
}

// applyLock handles LockEvent and DoorEvent under the device lock.
func (e *Engine) applyLock(ctx context.Context, ev types.DomainEvent, receivedAt time.Time) (Outcome, error) {
	unlock := e.locks.Lock(ev.Device())
	defer unlock()

	st, _, err := e.registry.ResolveLock(ctx, ev.Device())
	if err != nil {
		return Outcome{}, storageOr(err)
	}
	if err := e.ingress.Admit(ev, st.LastEventAt); err != nil {
		return Outcome{}, err
	}

	var res rules.LockResult
	switch ev := ev.(type) {
	case types.LockEvent:
		res = rules.EvaluateAttemptAt(e.cfg.Lock, st, ev, receivedAt)
	case types.DoorEvent:
		res = rules.EvaluateDoorAt(st, ev, receivedAt)
	}

	if res.Rejected {
		s := res.State.Clone()
		return Outcome{Lock: &s, Rejected: true},
			fmt.Errorf("%w: %s until %s", types.ErrLockedOut, ev.Device(), s.LockoutUntil.Format(time.RFC3339))
	}

	if err := e.audit.Validate(res.Entries); err != nil {
		return Outcome{}, err
	}

	// A caller that goes away mid-commit must not leave the cache behind
	// the store.
	committed, err := e.states.Commit(context.WithoutCancel(ctx), store.Commit{Lock: &res.State, Entries: res.Entries})
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: commit lock state: %v", types.ErrStorage, err)
	}
	e.registry.PutLock(res.State)

	s := res.State.Clone()
	return Outcome{
		Lock:    &s,
		Entries: committed,
		Alerts:  bindTriggers(res.Alerts, committed),
	}, nil
}

func (e *Engine) applyGas(ctx context.Context, ev types.GasEvent) (Outcome, error) {
	unlock := e.locks.Lock(ev.DeviceID)
	defer unlock()

	st, _, err := e.registry.ResolveGas(ctx, ev.DeviceID)
	if err != nil {
		return Outcome{}, storageOr(err)
	}
	if err := e.ingress.Admit(ev, st.LastEventAt); err != nil {
		return Outcome{}, err
	}

	res, err := rules.EvaluateReading(e.cfg.Gas, st, ev)
	if err != nil {
		return Outcome{}, err
	}

	if _, err := e.states.Commit(context.WithoutCancel(ctx), store.Commit{Gas: &res.State}); err != nil {
		return Outcome{}, fmt.Errorf("%w: commit gas state: %v", types.ErrStorage, err)
	}
	e.registry.PutGas(res.State)

	// Actuation stays under the lock so fan commands for a device are
	// issued in transition order.
	if res.Fan != nil && e.actuator != nil {
		if err := e.actuator.SetFan(ctx, *res.Fan); err != nil {
			logger.WarnKV(ctx, "fan actuation failed", "on", res.Fan.On, "error", err)
		}
	}

	s := res.State
	return Outcome{Gas: &s, Alerts: res.Alerts, Fan: res.Fan}, nil
}

func (e *Engine) dispatch(ctx context.Context, alerts []types.AlertRecord) {
	if e.alerts == nil {
		return
	}
	for _, a := range alerts {
		if err := e.alerts.Dispatch(ctx, a); err != nil {
			logger.WarnKV(ctx, "alert not dispatched", "kind", a.Kind, "error", err)
		}
	}
}

// LockState returns the stored state of a lock.
func (e *Engine) LockState(ctx context.Context, deviceID string) (types.LockState, error) {
	st, ok, err := e.registry.PeekLock(ctx, deviceID)
	if err != nil {
		return types.LockState{}, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	if !ok {
		return types.LockState{}, fmt.Errorf("%w: %s", types.ErrUnknownDevice, deviceID)
	}
	return st, nil
}

// LockStatus derives the status at now, so an elapsed lockout reads as
// locked without any event having arrived.
func (e *Engine) LockStatus(ctx context.Context, deviceID string, now time.Time) (types.LockStatus, error) {
	st, err := e.LockState(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return st.Status(now), nil
}

// GasState returns the stored state of a gas sensor.
func (e *Engine) GasState(ctx context.Context, deviceID string) (types.GasReadingState, error) {
	st, ok, err := e.registry.PeekGas(ctx, deviceID)
	if err != nil {
		return types.GasReadingState{}, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	if !ok {
		return types.GasReadingState{}, fmt.Errorf("%w: %s", types.ErrUnknownDevice, deviceID)
	}
	return st, nil
}

// DoorLog returns a device's door log within [from, to].
func (e *Engine) DoorLog(ctx context.Context, deviceID string, from, to time.Time) ([]types.DoorLogEntry, error) {
	return e.audit.QueryByDevice(ctx, deviceID, from, to)
}

// bindTriggers points each alert's triggering entry at its committed copy,
// which carries the assigned seq.
func bindTriggers(alerts []types.AlertRecord, committed []types.DoorLogEntry) []types.AlertRecord {
	for i := range alerts {
		t := alerts[i].TriggeringEntry
		if t == nil {
			continue
		}
		for j := range committed {
			c := committed[j]
			if c.Event == t.Event && c.Timestamp.Equal(t.Timestamp) {
				alerts[i].TriggeringEntry = &c
				break
			}
		}
	}
	return alerts
}

// storageOr keeps domain errors as they are and marks everything else as
// a storage failure.
func storageOr(err error) error {
	if errors.Is(err, types.ErrUnknownDevice) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrStorage, err)
}
