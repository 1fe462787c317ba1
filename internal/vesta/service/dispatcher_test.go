package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store/memory"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

type recordingNotifier struct {
	mu    sync.Mutex
	fail  int
	calls int
	sent  []string
	block chan struct{}
}

func (n *recordingNotifier) Notify(ctx context.Context, recipient string, a types.AlertRecord) error {
	if n.block != nil {
		select {
		case <-n.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.calls <= n.fail {
		return errors.New("unreachable")
	}
	n.sent = append(n.sent, recipient+":"+a.DedupeKey)
	return nil
}

func (n *recordingNotifier) snapshot() (calls int, sent []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls, append([]string(nil), n.sent...)
}

func newTestDispatcher(n Notifier, recipients map[string][]string, cfg DispatchConfig) (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(cfg, memory.NewDedupeStore(), memory.NewRecipientDirectory(recipients), n)

	var mu sync.Mutex
	var waits []time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		mu.Lock()
		waits = append(waits, dur)
		mu.Unlock()
		return ctx.Err()
	}
	return d, &waits
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcher_SuppressesDuplicatesWithinWindow(t *testing.T) {
	n := &recordingNotifier{}
	d, _ := newTestDispatcher(n, map[string][]string{"door-001": {"alice"}}, DispatchConfig{
		DedupeWindow:    time.Minute,
		LockedOutWindow: time.Minute,
		MaxAttempts:     3,
	})
	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop()

	a := types.NewAlert("door-001", types.AlertLockedOutNotice, now)
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Dispatch(ctx, a))
	}

	waitFor(t, func() bool { _, sent := n.snapshot(); return len(sent) == 1 })
	assert.Equal(t, int64(4), d.Stats().Suppressed)

	// After the window a new notice goes out.
	now = now.Add(time.Minute)
	require.NoError(t, d.Dispatch(ctx, a))
	waitFor(t, func() bool { _, sent := n.snapshot(); return len(sent) == 2 })
}

func TestDispatcher_RetriesWithBackoff(t *testing.T) {
	n := &recordingNotifier{fail: 2}
	d, waits := newTestDispatcher(n, map[string][]string{"gas-1": {"bob"}}, DispatchConfig{
		MaxAttempts: 3,
		Backoff:     100 * time.Millisecond,
		MaxBackoff:  time.Second,
	})
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop()

	require.NoError(t, d.Dispatch(ctx, types.NewAlert("gas-1", types.AlertFanOn, time.Now())))

	waitFor(t, func() bool { return d.Stats().Delivered == 1 })
	calls, sent := n.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"bob:gas-1|fan_on"}, sent)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *waits)
}

func TestDispatcher_DropsAfterMaxAttempts(t *testing.T) {
	n := &recordingNotifier{fail: 100}
	d, _ := newTestDispatcher(n, map[string][]string{"gas-1": {"bob"}}, DispatchConfig{MaxAttempts: 3})
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop()

	require.NoError(t, d.Dispatch(ctx, types.NewAlert("gas-1", types.AlertFanOff, time.Now())))

	waitFor(t, func() bool { return d.Stats().Dropped == 1 })
	calls, _ := n.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(0), d.Stats().Delivered)
}

func TestDispatcher_BackoffIsCapped(t *testing.T) {
	d := NewDispatcher(DispatchConfig{Backoff: time.Second, MaxBackoff: 5 * time.Second}, nil, nil, nil)

	assert.Equal(t, time.Second, d.backoff(1))
	assert.Equal(t, 2*time.Second, d.backoff(2))
	assert.Equal(t, 4*time.Second, d.backoff(3))
	assert.Equal(t, 5*time.Second, d.backoff(4))
	assert.Equal(t, 5*time.Second, d.backoff(10))
}

func TestDispatcher_Windows(t *testing.T) {
	d := NewDispatcher(DispatchConfig{
		DedupeWindow:    time.Minute,
		LockedOutWindow: 2 * time.Minute,
		FanWindow:       30 * time.Second,
	}, nil, nil, nil)

	assert.Equal(t, 2*time.Minute, d.Window(types.AlertLockedOutNotice))
	assert.Equal(t, 30*time.Second, d.Window(types.AlertFanOn))
	assert.Equal(t, 30*time.Second, d.Window(types.AlertFanOff))
	assert.Equal(t, time.Minute, d.Window(types.AlertIntrusionSuspected))
}

func TestDispatcher_QueueFull(t *testing.T) {
	d := NewDispatcher(DispatchConfig{QueueSize: 1}, memory.NewDedupeStore(), nil, &recordingNotifier{})
	ctx := context.Background()

	// Not started: the queue fills up.
	require.NoError(t, d.Dispatch(ctx, types.NewAlert("a", types.AlertFanOn, time.Now())))
	err := d.Dispatch(ctx, types.NewAlert("b", types.AlertFanOn, time.Now()))
	require.ErrorIs(t, err, types.ErrDispatch)
	assert.Equal(t, int64(1), d.Stats().Dropped)
}

func TestDispatcher_StopCancelsInFlightDelivery(t *testing.T) {
	n := &recordingNotifier{block: make(chan struct{})}
	d := NewDispatcher(DispatchConfig{MaxAttempts: 5, Backoff: time.Hour},
		memory.NewDedupeStore(), memory.NewRecipientDirectory(map[string][]string{"door-001": {"alice"}}), n)
	ctx := context.Background()
	d.Start(ctx)

	require.NoError(t, d.Dispatch(ctx, types.NewAlert("door-001", types.AlertIntrusionSuspected, time.Now())))

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not abandon the blocked delivery")
	}

	err := d.Dispatch(ctx, types.NewAlert("door-001", types.AlertFanOn, time.Now()))
	require.ErrorIs(t, err, types.ErrDispatch)

	d.Stop()
}

func TestDispatcher_AssignsIDs(t *testing.T) {
	d := NewDispatcher(DispatchConfig{QueueSize: 4}, nil, nil, &recordingNotifier{})

	require.NoError(t, d.Dispatch(context.Background(), types.AlertRecord{DeviceID: "gas-1", Kind: types.AlertFanOn}))
	a := <-d.queue
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "gas-1|fan_on", a.DedupeKey)
}
