package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type SeedDevOptions struct {
	// KnownDevices are registered and enabled.
	KnownDevices []string
	// Recipients maps device id to the identities notified about it.
	Recipients map[string][]string
}

// SeedDev registers devices and recipients from config so a fresh dev
// database behaves like the in-memory setup.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	upsertDevice := func(id string) error {
		_, err := db.ExecContext(ctx, `
INSERT INTO devices(device_id, enabled, created_at_ms, updated_at_ms)
VALUES (?, 1, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
  enabled = 1,
  updated_at_ms = excluded.updated_at_ms;
`, id, now, now)
		return err
	}

	for _, id := range opt.KnownDevices {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := upsertDevice(id); err != nil {
			return fmt.Errorf("seed device %s: %w", id, err)
		}
	}

	for id, rs := range opt.Recipients {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := upsertDevice(id); err != nil {
			return fmt.Errorf("seed device %s: %w", id, err)
		}
		for _, r := range rs {
			r = strings.TrimSpace(r)
			if r == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO device_recipients(device_id, recipient, created_at_ms)
VALUES (?, ?, ?);`, id, r, now); err != nil {
				return fmt.Errorf("seed recipient %s/%s: %w", id, r, err)
			}
		}
	}

	return nil
}
