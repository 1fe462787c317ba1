package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Vesta/server/internal/db"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

const (
	kindLock = "lock"
	kindGas  = "gas"
)

// StateStore keeps lock and gas state plus the door log in sqlite.  Commit
// runs as one transaction on the single writer.
type StateStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewStateStore(db *sql.DB, writer *dbpkg.Worker) *StateStore {
	return &StateStore{db: db, writer: writer}
}

func (s *StateStore) LoadLock(ctx context.Context, deviceID string) (types.LockState, bool, error) {
	var (
		locked, failed int64
		lastEventMs    int64
		lockoutMs      sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT locked, failed_attempts, last_event_at_ms, lockout_until_ms
FROM lock_states
WHERE device_id = ?;
`, deviceID).Scan(&locked, &failed, &lastEventMs, &lockoutMs)
	if errors.Is(err, sql.ErrNoRows) {
		return types.LockState{}, false, nil
	}
	if err != nil {
		return types.LockState{}, false, fmt.Errorf("LoadLock query: %w", err)
	}

	st := types.LockState{
		DeviceID:       deviceID,
		Locked:         locked == 1,
		FailedAttempts: uint(failed),
		LastEventAt:    fromMs(lastEventMs),
	}
	if lockoutMs.Valid {
		t := fromMs(lockoutMs.Int64)
		st.LockoutUntil = &t
	}
	return st, true, nil
}

func (s *StateStore) LoadGas(ctx context.Context, deviceID string) (types.GasReadingState, bool, error) {
	var (
		value                float64
		status               string
		sinceMs, lastEventMs int64
		fanOn                int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT last_value, status, status_since_ms, last_event_at_ms, fan_on
FROM gas_states
WHERE device_id = ?;
`, deviceID).Scan(&value, &status, &sinceMs, &lastEventMs, &fanOn)
	if errors.Is(err, sql.ErrNoRows) {
		return types.GasReadingState{}, false, nil
	}
	if err != nil {
		return types.GasReadingState{}, false, fmt.Errorf("LoadGas query: %w", err)
	}

	return types.GasReadingState{
		DeviceID:    deviceID,
		LastValue:   value,
		Status:      types.GasStatus(status),
		StatusSince: fromMs(sinceMs),
		LastEventAt: fromMs(lastEventMs),
		FanOn:       fanOn == 1,
	}, true, nil
}

// MarksSeenOnCommit reports that Commit refreshes devices.last_seen_at_ms.
func (s *StateStore) MarksSeenOnCommit() bool { return true }

func (s *StateStore) Commit(ctx context.Context, c store.Commit) ([]types.DoorLogEntry, error) {
	var out []types.DoorLogEntry

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		nowMs := time.Now().UTC().UnixMilli()
		out = make([]types.DoorLogEntry, 0, len(c.Entries))

		if c.Lock != nil {
			if err := upsertLock(ctx, tx, *c.Lock, nowMs); err != nil {
				return err
			}
		}
		if c.Gas != nil {
			if err := upsertGas(ctx, tx, *c.Gas, nowMs); err != nil {
				return err
			}
		}
		for _, e := range c.Entries {
			stored, err := appendEntry(ctx, tx, e, nowMs)
			if err != nil {
				return err
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func upsertLock(ctx context.Context, tx *sql.Tx, st types.LockState, nowMs int64) error {
	if err := ensureDevice(ctx, tx, st.DeviceID, kindLock, nowMs); err != nil {
		return err
	}

	var lockout any
	if st.LockoutUntil != nil {
		lockout = toMs(*st.LockoutUntil)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO lock_states(
  device_id, locked, failed_attempts, last_event_at_ms, lockout_until_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
  locked           = excluded.locked,
  failed_attempts  = excluded.failed_attempts,
  last_event_at_ms = excluded.last_event_at_ms,
  lockout_until_ms = excluded.lockout_until_ms,
  updated_at_ms    = excluded.updated_at_ms;
`, st.DeviceID, boolInt(st.Locked), int64(st.FailedAttempts), toMs(st.LastEventAt), lockout, nowMs); err != nil {
		return fmt.Errorf("upsert lock state %s: %w", st.DeviceID, err)
	}

	return touchDevice(ctx, tx, st.DeviceID, nowMs)
}

func upsertGas(ctx context.Context, tx *sql.Tx, st types.GasReadingState, nowMs int64) error {
	if err := ensureDevice(ctx, tx, st.DeviceID, kindGas, nowMs); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO gas_states(
  device_id, last_value, status, status_since_ms, last_event_at_ms, fan_on, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
  last_value       = excluded.last_value,
  status           = excluded.status,
  status_since_ms  = excluded.status_since_ms,
  last_event_at_ms = excluded.last_event_at_ms,
  fan_on           = excluded.fan_on,
  updated_at_ms    = excluded.updated_at_ms;
`, st.DeviceID, st.LastValue, string(st.Status), toMs(st.StatusSince), toMs(st.LastEventAt), boolInt(st.FanOn), nowMs); err != nil {
		return fmt.Errorf("upsert gas state %s: %w", st.DeviceID, err)
	}

	return touchDevice(ctx, tx, st.DeviceID, nowMs)
}

func touchDevice(ctx context.Context, tx *sql.Tx, deviceID string, nowMs int64) error {
	if _, err := tx.ExecContext(ctx, `
UPDATE devices
SET last_seen_at_ms = ?,
    updated_at_ms   = ?
WHERE device_id = ?;
`, nowMs, nowMs, deviceID); err != nil {
		return fmt.Errorf("touch device %s: %w", deviceID, err)
	}
	return nil
}
