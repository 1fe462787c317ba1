package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/Vesta/server/internal/db"
)

type DeviceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDeviceStore(db *sql.DB, writer *dbpkg.Worker) *DeviceStore {
	return &DeviceStore{db: db, writer: writer}
}

// IsKnown treats "known" as registered and enabled.  Rows created by
// auto-provisioning stay disabled.
func (s *DeviceStore) IsKnown(ctx context.Context, deviceID string) (bool, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return false, nil
	}

	var enabled int
	err := s.db.QueryRowContext(ctx, `
SELECT enabled FROM devices WHERE device_id = ?;
`, deviceID).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("IsKnown query: %w", err)
	}
	return enabled == 1, nil
}

// MarkSeen ensures the device row exists and updates last_seen.
func (s *DeviceStore) MarkSeen(ctx context.Context, deviceID string, _ bool, t time.Time) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}
	ms := toMs(t)

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, deviceID, "", ms); err != nil {
			return err
		}
		return touchDevice(ctx, tx, deviceID, ms)
	})
}
