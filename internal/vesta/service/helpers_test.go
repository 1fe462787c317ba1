package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/rules"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/service"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store/memory"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

var t0 = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

func ts(d time.Duration) string {
	return t0.Add(d).Format(time.RFC3339Nano)
}

func gasValue(v float64) *float64 { return &v }

// alertSink records dispatched alerts.
type alertSink struct {
	mu     sync.Mutex
	alerts []types.AlertRecord
	err    error
}

func (s *alertSink) Dispatch(_ context.Context, a types.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *alertSink) Alerts() []types.AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AlertRecord(nil), s.alerts...)
}

func (s *alertSink) Kinds() []types.AlertKind {
	var out []types.AlertKind
	for _, a := range s.Alerts() {
		out = append(out, a.Kind)
	}
	return out
}

type fanRecorder struct {
	mu   sync.Mutex
	cmds []types.FanCommand
}

func (f *fanRecorder) SetFan(_ context.Context, cmd types.FanCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fanRecorder) Commands() []types.FanCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.FanCommand(nil), f.cmds...)
}

type readingRecorder struct {
	mu       sync.Mutex
	readings []types.GasReadingState
	times    []time.Time
}

func (r *readingRecorder) RecordReading(_ context.Context, st types.GasReadingState, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, st)
	r.times = append(r.times, at)
}

// clock is the engine's receive time.  It starts at t0 and only moves
// forward.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// AdvanceTo moves the clock to t unless it is already later.
func (c *clock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

type testEngine struct {
	*service.Engine
	clock    *clock
	store    *memory.Store
	devices  *memory.DeviceStore
	sink     *alertSink
	fan      *fanRecorder
	readings *readingRecorder
}

type engineOptions struct {
	strict bool
	known  []string
	// states replaces the memory store as StateStore when set.
	states store.StateStore
}

func newTestEngine(opt engineOptions) *testEngine {
	ms := memory.New()
	ds := memory.NewDeviceStore(opt.known)
	var states store.StateStore = ms
	if opt.states != nil {
		states = opt.states
	}
	reg := service.NewDeviceRegistry(states, ds, memory.NewRecipientDirectory(nil),
		service.RegistryConfig{Strict: opt.strict})

	te := &testEngine{
		clock:    &clock{now: t0},
		store:    ms,
		devices:  ds,
		sink:     &alertSink{},
		fan:      &fanRecorder{},
		readings: &readingRecorder{},
	}
	te.Engine = service.NewEngine(service.EngineConfig{
		Lock:          rules.LockPolicy{Threshold: 3, LockoutDuration: time.Minute},
		Gas:           rules.GasPolicy{Low: 300, High: 500},
		SkewTolerance: 5 * time.Second,
		Clock:         te.clock.Now,
	}, service.EngineDeps{
		Registry: reg,
		States:   states,
		Audit:    service.NewAuditLog(ms),
		Alerts:   te.sink,
		Actuator: te.fan,
		Recorder: te.readings,
	})
	return te
}

// attempt, door and reading are delivered on time: the clock advances to
// the report's timestamp first.
func (te *testEngine) attempt(result string, at time.Duration) (service.Outcome, error) {
	te.clock.AdvanceTo(t0.Add(at))
	return te.Ingest(context.Background(), types.RawReport{
		DeviceID:  "door-001",
		Type:      types.ReportLock,
		Result:    result,
		Timestamp: ts(at),
	})
}

func (te *testEngine) door(event string, at time.Duration) (service.Outcome, error) {
	te.clock.AdvanceTo(t0.Add(at))
	return te.Ingest(context.Background(), types.RawReport{
		DeviceID:  "door-001",
		Type:      types.ReportDoor,
		Event:     event,
		Timestamp: ts(at),
	})
}

func (te *testEngine) reading(v float64, at time.Duration) (service.Outcome, error) {
	te.clock.AdvanceTo(t0.Add(at))
	return te.Ingest(context.Background(), types.RawReport{
		DeviceID:  "gas-kitchen",
		Type:      types.ReportGas,
		Value:     gasValue(v),
		Timestamp: ts(at),
	})
}
