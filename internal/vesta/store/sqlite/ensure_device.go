package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ensureDevice guarantees a devices row exists for deviceID so foreign keys
// from state and door_log rows hold.  Auto-provisioned rows start disabled;
// only seeding or an admin action enables (registers) a device.
//
// Must be called inside an existing transaction.
func ensureDevice(ctx context.Context, tx *sql.Tx, deviceID, kind string, nowMs int64) error {
	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO devices(
  device_id, kind, enabled, created_at_ms, updated_at_ms
) VALUES (?, ?, 0, ?, ?);
`, deviceID, kind, nowMs, nowMs); err != nil {
		return fmt.Errorf("ensureDevice %s: %w", deviceID, err)
	}
	if kind != "" {
		if _, err := tx.ExecContext(ctx, `
UPDATE devices SET kind = ? WHERE device_id = ? AND kind = '';
`, kind, deviceID); err != nil {
			return fmt.Errorf("ensureDevice kind %s: %w", deviceID, err)
		}
	}
	return nil
}

func toMs(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
