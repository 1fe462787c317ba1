package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store/memory"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// ── Lock ────────────────────────────────────────────────────────────────────

func TestIngest_ThreeFailuresLockOut(t *testing.T) {
	te := newTestEngine(engineOptions{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := te.attempt("failure", time.Duration(i)*time.Second)
		require.NoError(t, err)
	}

	st, err := te.LockState(ctx, "door-001")
	require.NoError(t, err)
	assert.Equal(t, uint(3), st.FailedAttempts)
	require.NotNil(t, st.LockoutUntil)
	assert.True(t, st.LockoutUntil.Equal(t0.Add(2*time.Second+time.Minute)))

	alerts := te.sink.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertLockedOutNotice, alerts[0].Kind)
	require.NotNil(t, alerts[0].TriggeringEntry)
	assert.Equal(t, types.DoorLockedOut, alerts[0].TriggeringEntry.Event)
	assert.Equal(t, uint64(3), alerts[0].TriggeringEntry.Seq)

	// Fourth attempt one second later is refused without an audit entry.
	out, err := te.attempt("success", 3*time.Second)
	require.ErrorIs(t, err, types.ErrLockedOut)
	assert.True(t, out.Rejected)

	log, err := te.DoorLog(ctx, "door-001", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, types.DoorLockAttemptFailed, log[0].Event)
	assert.Equal(t, types.DoorLockAttemptFailed, log[1].Event)
	assert.Equal(t, types.DoorLockedOut, log[2].Event)
	assert.Equal(t, types.LockStatusLockedOut, log[2].Status)

	st, err = te.LockState(ctx, "door-001")
	require.NoError(t, err)
	assert.Equal(t, uint(3), st.FailedAttempts, "rejection must not touch the counter")
	assert.Len(t, te.sink.Alerts(), 1)
}

func TestIngest_SuccessResetsCounter(t *testing.T) {
	te := newTestEngine(engineOptions{})
	ctx := context.Background()

	_, err := te.attempt("failure", 0)
	require.NoError(t, err)
	_, err = te.attempt("failure", time.Second)
	require.NoError(t, err)

	out, err := te.attempt("success", 2*time.Second)
	require.NoError(t, err)
	require.Len(t, out.Entries, 1)
	assert.Equal(t, types.DoorLockAttemptSucceeded, out.Entries[0].Event)
	assert.Equal(t, types.LockStatusUnlocked, out.Entries[0].Status)
	assert.Empty(t, out.Alerts)

	st, err := te.LockState(ctx, "door-001")
	require.NoError(t, err)
	assert.Equal(t, uint(0), st.FailedAttempts)
	assert.False(t, st.Locked)
}

func TestIngest_LockoutExpiresLazily(t *testing.T) {
	te := newTestEngine(engineOptions{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := te.attempt("failure", 0)
		require.NoError(t, err)
	}

	status, err := te.LockStatus(ctx, "door-001", t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, types.LockStatusLockedOut, status)

	status, err = te.LockStatus(ctx, "door-001", t0.Add(61*time.Second))
	require.NoError(t, err)
	assert.Equal(t, types.LockStatusLocked, status)

	out, err := te.attempt("success", 61*time.Second)
	require.NoError(t, err)
	assert.False(t, out.Rejected)
	assert.False(t, out.Lock.Locked)
	assert.Nil(t, out.Lock.LockoutUntil)
}

func TestIngest_DoorEvents(t *testing.T) {
	te := newTestEngine(engineOptions{})
	ctx := context.Background()

	// Opening a locked door is recorded and raises an intrusion alert.
	out, err := te.door("opened", 0)
	require.NoError(t, err)
	require.Len(t, out.Alerts, 1)
	assert.Equal(t, types.AlertIntrusionSuspected, out.Alerts[0].Kind)

	_, err = te.attempt("success", time.Second)
	require.NoError(t, err)
	out, err = te.door("opened", 2*time.Second)
	require.NoError(t, err)
	assert.Empty(t, out.Alerts)

	out, err = te.door("closed", 3*time.Second)
	require.NoError(t, err)
	assert.True(t, out.Lock.Locked, "closing an unlocked door locks it")

	log, err := te.DoorLog(ctx, "door-001", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, log, 4)
	for i, e := range log {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
	assert.Equal(t, types.DoorClosed, log[3].Event)
}

// ── Gas ─────────────────────────────────────────────────────────────────────

func TestIngest_GasHysteresis(t *testing.T) {
	te := newTestEngine(engineOptions{})

	values := []float64{200, 520, 480, 550, 250}
	want := []types.GasStatus{
		types.GasStatusNormal,
		types.GasStatusWarning,
		types.GasStatusWarning,
		types.GasStatusWarning,
		types.GasStatusNormal,
	}

	for i, v := range values {
		out, err := te.reading(v, time.Duration(i)*time.Second)
		require.NoError(t, err, "reading %v", v)
		require.NotNil(t, out.Gas)
		assert.Equal(t, want[i], out.Gas.Status, "after %v", v)
	}

	alerts := te.sink.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, types.AlertFanOn, alerts[0].Kind)
	assert.InDelta(t, 520, *alerts[0].Reading, 1e-9)
	assert.Equal(t, types.AlertFanOff, alerts[1].Kind)
	assert.InDelta(t, 250, *alerts[1].Reading, 1e-9)

	assert.Equal(t, []types.FanCommand{
		{DeviceID: "gas-kitchen", On: true},
		{DeviceID: "gas-kitchen", On: false},
	}, te.fan.Commands())

	assert.Len(t, te.readings.readings, len(values))
}

func TestIngest_InvalidReadingChangesNothing(t *testing.T) {
	te := newTestEngine(engineOptions{})
	ctx := context.Background()

	_, err := te.reading(100, 0)
	require.NoError(t, err)

	_, err = te.reading(-1, time.Second)
	require.ErrorIs(t, err, types.ErrInvalidReading)

	st, err := te.GasState(ctx, "gas-kitchen")
	require.NoError(t, err)
	assert.InDelta(t, 100, st.LastValue, 1e-9)
	assert.True(t, st.LastEventAt.Equal(t0))
}

// ── Ingress errors ──────────────────────────────────────────────────────────

func TestIngest_StaleReportHasNoEffects(t *testing.T) {
	te := newTestEngine(engineOptions{})
	ctx := context.Background()

	_, err := te.attempt("failure", time.Minute)
	require.NoError(t, err)

	// Within tolerance: accepted.
	_, err = te.attempt("failure", time.Minute-4*time.Second)
	require.NoError(t, err)

	// Beyond tolerance: discarded.
	_, err = te.attempt("failure", 0)
	require.ErrorIs(t, err, types.ErrStaleEvent)

	st, err := te.LockState(ctx, "door-001")
	require.NoError(t, err)
	assert.Equal(t, uint(2), st.FailedAttempts)

	log, err := te.DoorLog(ctx, "door-001", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, log, 2)
	assert.Empty(t, te.sink.Alerts())
}

func TestIngest_ValidationErrors(t *testing.T) {
	te := newTestEngine(engineOptions{})
	ctx := context.Background()

	_, err := te.Ingest(ctx, types.RawReport{Type: types.ReportLock, Result: "success"})
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = te.Ingest(ctx, types.RawReport{DeviceID: "door-001", Type: types.ReportLock, Result: "maybe"})
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = te.Ingest(ctx, types.RawReport{DeviceID: "door-001", Type: types.ReportLock, Result: "success", Timestamp: "yesterday"})
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = te.LockState(ctx, "door-001")
	require.ErrorIs(t, err, types.ErrUnknownDevice, "no state may be provisioned by a rejected report")
}

func TestIngest_StrictModeRejectsUnknownDevice(t *testing.T) {
	te := newTestEngine(engineOptions{strict: true, known: []string{"door-001"}})
	ctx := context.Background()

	_, err := te.Ingest(ctx, types.RawReport{DeviceID: "rogue", Type: types.ReportLock, Result: "success"})
	require.ErrorIs(t, err, types.ErrUnknownDevice)

	_, err = te.attempt("success", 0)
	require.NoError(t, err)

	_, seen := te.devices.LastSeen("door-001")
	assert.True(t, seen)
}

// ── Storage ─────────────────────────────────────────────────────────────────

func TestIngest_StorageFailureAppliesNothing(t *testing.T) {
	te := newTestEngine(engineOptions{})
	ctx := context.Background()

	_, err := te.attempt("failure", 0)
	require.NoError(t, err)
	_, err = te.attempt("failure", time.Second)
	require.NoError(t, err)

	te.store.SetCommitError(errors.New("disk full"))
	_, err = te.attempt("failure", 2*time.Second)
	require.ErrorIs(t, err, types.ErrStorage)

	st, err := te.LockState(ctx, "door-001")
	require.NoError(t, err)
	assert.Equal(t, uint(2), st.FailedAttempts)
	assert.Nil(t, st.LockoutUntil)
	assert.Empty(t, te.sink.Alerts(), "no alert for an uncommitted transition")

	// Retrying the same report once storage recovers applies it exactly once.
	te.store.SetCommitError(nil)
	_, err = te.attempt("failure", 2*time.Second)
	require.NoError(t, err)

	log, err := te.DoorLog(ctx, "door-001", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, types.DoorLockedOut, log[2].Event)
	assert.Len(t, te.sink.Alerts(), 1)
}

func TestIngest_DispatchFailureDoesNotFailIngest(t *testing.T) {
	te := newTestEngine(engineOptions{})
	te.sink.err = fmt.Errorf("%w: queue full", types.ErrDispatch)

	for i := 0; i < 3; i++ {
		_, err := te.attempt("failure", time.Duration(i)*time.Second)
		require.NoError(t, err)
	}

	st, err := te.LockState(context.Background(), "door-001")
	require.NoError(t, err)
	assert.NotNil(t, st.LockoutUntil)
}

// ── Concurrency ─────────────────────────────────────────────────────────────

func TestIngest_ConcurrentFailuresCrossThresholdOnce(t *testing.T) {
	te := newTestEngine(engineOptions{})
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = te.Ingest(ctx, types.RawReport{
				DeviceID:  "door-001",
				Type:      types.ReportLock,
				Result:    "failure",
				Timestamp: ts(0),
			})
		}()
	}
	wg.Wait()

	st, err := te.LockState(ctx, "door-001")
	require.NoError(t, err)
	assert.Equal(t, uint(3), st.FailedAttempts)

	log, err := te.DoorLog(ctx, "door-001", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, log, 3)
	assert.Len(t, te.sink.Alerts(), 1)
}

func TestIngest_DevicesAreIndependent(t *testing.T) {
	te := newTestEngine(engineOptions{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for d := 0; d < 8; d++ {
		id := fmt.Sprintf("door-%03d", d)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2; i++ {
				_, err := te.Ingest(ctx, types.RawReport{
					DeviceID:  id,
					Type:      types.ReportLock,
					Result:    "failure",
					Timestamp: ts(time.Duration(i) * time.Second),
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for d := 0; d < 8; d++ {
		st, err := te.LockState(ctx, fmt.Sprintf("door-%03d", d))
		require.NoError(t, err)
		assert.Equal(t, uint(2), st.FailedAttempts)
	}
	assert.Empty(t, te.sink.Alerts())
}

// ── Receive time ────────────────────────────────────────────────────────────

func TestIngest_FutureTimestampRejected(t *testing.T) {
	te := newTestEngine(engineOptions{})
	ctx := context.Background()

	_, err := te.Ingest(ctx, types.RawReport{
		DeviceID:  "door-001",
		Type:      types.ReportLock,
		Result:    "failure",
		Timestamp: ts(24 * time.Hour),
	})
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = te.LockState(ctx, "door-001")
	require.ErrorIs(t, err, types.ErrUnknownDevice, "a rejected report provisions nothing")

	// A report dated now is not stale against the rejected one.
	_, err = te.attempt("failure", 0)
	require.NoError(t, err)

	st, err := te.LockState(ctx, "door-001")
	require.NoError(t, err)
	assert.Equal(t, uint(1), st.FailedAttempts)
	assert.True(t, st.LastEventAt.Equal(t0))
}

func TestIngest_LaggingDeviceClockCannotShortenLockout(t *testing.T) {
	te := newTestEngine(engineOptions{})
	ctx := context.Background()

	// The device clock runs an hour behind the server.
	server := t0.Add(time.Hour)
	te.clock.Set(server)

	for i := 0; i < 3; i++ {
		_, err := te.Ingest(ctx, types.RawReport{
			DeviceID:  "door-001",
			Type:      types.ReportLock,
			Result:    "failure",
			Timestamp: ts(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	st, err := te.LockState(ctx, "door-001")
	require.NoError(t, err)
	require.NotNil(t, st.LockoutUntil)
	assert.True(t, st.LockoutUntil.Equal(server.Add(time.Minute)))
	assert.True(t, st.LastEventAt.Equal(t0.Add(2*time.Second)), "device time is kept for ordering")

	// Two device minutes later, but the server has not moved: still locked out.
	out, err := te.Ingest(ctx, types.RawReport{
		DeviceID:  "door-001",
		Type:      types.ReportLock,
		Result:    "success",
		Timestamp: ts(2 * time.Minute),
	})
	require.ErrorIs(t, err, types.ErrLockedOut)
	assert.True(t, out.Rejected)

	te.clock.Set(server.Add(time.Minute + time.Second))
	out, err = te.Ingest(ctx, types.RawReport{
		DeviceID:  "door-001",
		Type:      types.ReportLock,
		Result:    "success",
		Timestamp: ts(3 * time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, out.Lock.Locked)

	log, err := te.DoorLog(ctx, "door-001", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, log, 4)
	assert.True(t, log[3].Timestamp.Equal(t0.Add(3*time.Minute)))
}

// ── Commit ──────────────────────────────────────────────────────────────────

// cancelAwareStore fails commits whose context is done.
type cancelAwareStore struct {
	*memory.Store
}

func (s cancelAwareStore) Commit(ctx context.Context, c store.Commit) ([]types.DoorLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.Commit(ctx, c)
}

func TestIngest_CancelledCallerStillCommits(t *testing.T) {
	ms := memory.New()
	te := newTestEngine(engineOptions{states: cancelAwareStore{ms}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := te.Ingest(ctx, types.RawReport{
		DeviceID:  "door-001",
		Type:      types.ReportLock,
		Result:    "failure",
		Timestamp: ts(0),
	})
	require.NoError(t, err)

	st, ok, err := ms.LoadLock(context.Background(), "door-001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint(1), st.FailedAttempts)
}

// seenOnCommitStore marks devices seen inside Commit.
type seenOnCommitStore struct {
	*memory.Store
}

func (seenOnCommitStore) MarksSeenOnCommit() bool { return true }

func TestIngest_SkipsMarkSeenWhenCommitRecordsIt(t *testing.T) {
	te := newTestEngine(engineOptions{states: seenOnCommitStore{memory.New()}})

	_, err := te.attempt("success", 0)
	require.NoError(t, err)

	_, seen := te.devices.LastSeen("door-001")
	assert.False(t, seen)

	plain := newTestEngine(engineOptions{})
	_, err = plain.attempt("success", 0)
	require.NoError(t, err)

	_, seen = plain.devices.LastSeen("door-001")
	assert.True(t, seen)
}

func TestIngest_RecordsReadingAtEventTime(t *testing.T) {
	te := newTestEngine(engineOptions{})

	_, err := te.reading(100, 10*time.Second)
	require.NoError(t, err)
	// Late but within tolerance.
	_, err = te.reading(120, 8*time.Second)
	require.NoError(t, err)

	te.readings.mu.Lock()
	defer te.readings.mu.Unlock()
	require.Len(t, te.readings.times, 2)
	assert.True(t, te.readings.times[0].Equal(t0.Add(10*time.Second)))
	assert.True(t, te.readings.times[1].Equal(t0.Add(8*time.Second)))
}
