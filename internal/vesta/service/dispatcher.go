package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Vesta/server/internal/logger"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// Notifier delivers one alert to one recipient.
type Notifier interface {
	Notify(ctx context.Context, recipient string, alert types.AlertRecord) error
}

// RecipientResolver maps a device to the identities that want its alerts.
type RecipientResolver interface {
	Recipients(ctx context.Context, deviceID string) ([]string, error)
}

type DispatchConfig struct {
	// DedupeWindow applies to kinds without a dedicated window.
	DedupeWindow time.Duration
	// LockedOutWindow suppresses repeat lockout notices.  Usually the
	// lockout duration.
	LockedOutWindow time.Duration
	// FanWindow suppresses repeat fan alerts.  Usually the settle time.
	FanWindow time.Duration

	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration

	Workers   int
	QueueSize int
}

// DispatchStats are cumulative counters.
type DispatchStats struct {
	Queued     int64
	Suppressed int64
	Delivered  int64
	Dropped    int64
}

// Dispatcher delivers alerts asynchronously.  Each dedupe key is sent at
// most once per window; a reservation stands even if delivery later fails.
// Failed deliveries are retried with capped exponential backoff, then
// dropped with a warning.
type Dispatcher struct {
	cfg        DispatchConfig
	dedupe     store.DedupeStore
	recipients RecipientResolver
	notifier   Notifier

	queue chan types.AlertRecord
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	queued, suppressed, delivered, dropped atomic.Int64
}

var errDispatcherStopped = errors.New("dispatcher stopped")

func NewDispatcher(cfg DispatchConfig, dedupe store.DedupeStore, recipients RecipientResolver, n Notifier) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}

	return &Dispatcher{
		cfg:        cfg,
		dedupe:     dedupe,
		recipients: recipients,
		notifier:   n,
		queue:      make(chan types.AlertRecord, cfg.QueueSize),
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepCtx,
	}
}

// Window returns the dedupe window for kind.
func (d *Dispatcher) Window(kind types.AlertKind) time.Duration {
	switch kind {
	case types.AlertLockedOutNotice:
		if d.cfg.LockedOutWindow > 0 {
			return d.cfg.LockedOutWindow
		}
	case types.AlertFanOn, types.AlertFanOff:
		if d.cfg.FanWindow > 0 {
			return d.cfg.FanWindow
		}
	}
	return d.cfg.DedupeWindow
}

// Dispatch reserves the alert's dedupe key and queues it.  A suppressed
// duplicate returns nil.  A failed reservation lets the alert through.
func (d *Dispatcher) Dispatch(ctx context.Context, a types.AlertRecord) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return fmt.Errorf("%w: %v", types.ErrDispatch, errDispatcherStopped)
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.DedupeKey == "" {
		a.DedupeKey = types.DedupeKey(a.DeviceID, a.Kind)
	}

	if d.dedupe != nil {
		ok, err := d.dedupe.Reserve(ctx, a.DedupeKey, d.Window(a.Kind), d.now())
		switch {
		case err != nil:
			logger.WarnKV(ctx, "dedupe reserve failed, sending anyway",
				"alert_id", a.ID, "dedupe_key", a.DedupeKey, "error", err)
		case !ok:
			d.suppressed.Add(1)
			logger.DebugKV(ctx, "alert suppressed", "dedupe_key", a.DedupeKey)
			return nil
		}
	}

	select {
	case d.queue <- a:
		d.queued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		return fmt.Errorf("%w: queue full, dropping %s", types.ErrDispatch, a.DedupeKey)
	}
}

// Start launches the worker pool.  Calling it twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.stopped {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}

	logger.InfoKV(ctx, "alert dispatcher started",
		"workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
}

// Stop cancels pending retries, abandons queued alerts and waits for the
// workers.  Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Queued:     d.queued.Load(),
		Suppressed: d.suppressed.Load(),
		Delivered:  d.delivered.Load(),
		Dropped:    d.dropped.Load(),
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			d.deliver(ctx, a)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, a types.AlertRecord) {
	ctx = logger.WithKV(ctx, "alert_id", a.ID, "device_id", a.DeviceID, "kind", a.Kind)

	var recipients []string
	if d.recipients != nil {
		rs, err := d.recipients.Recipients(ctx, a.DeviceID)
		if err != nil {
			d.dropped.Add(1)
			logger.WarnKV(ctx, "dropping alert, recipients unavailable", "error", err)
			return
		}
		recipients = rs
	}
	if len(recipients) == 0 {
		logger.DebugKV(ctx, "no recipients for alert")
		return
	}

	for _, r := range recipients {
		if err := d.sendWithRetry(ctx, r, a); err != nil {
			d.dropped.Add(1)
			logger.WarnKV(ctx, "dropping notification", "recipient", r, "error", err)
			continue
		}
		d.delivered.Add(1)
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, recipient string, a types.AlertRecord) error {
	var err error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err = d.notifier.Notify(ctx, recipient, a); err == nil {
			return nil
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}
		logger.DebugKV(ctx, "notification failed, retrying",
			"recipient", recipient, "attempt", attempt, "error", err)
		if serr := d.sleep(ctx, d.backoff(attempt)); serr != nil {
			return fmt.Errorf("%w: abandoned after %d attempts: %v", types.ErrDispatch, attempt, serr)
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", types.ErrDispatch, d.cfg.MaxAttempts, err)
}

// backoff is the wait after the given failed attempt: Backoff doubled per
// attempt, capped at MaxBackoff.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	b := d.cfg.Backoff
	for i := 1; i < attempt; i++ {
		b *= 2
		if b >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
