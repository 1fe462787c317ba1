package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/Vesta/server/internal/db"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

type DoorLogStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDoorLogStore(db *sql.DB, writer *dbpkg.Worker) *DoorLogStore {
	return &DoorLogStore{db: db, writer: writer}
}

func (s *DoorLogStore) Append(ctx context.Context, e types.DoorLogEntry) (types.DoorLogEntry, error) {
	var stored types.DoorLogEntry
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		stored, err = appendEntry(ctx, tx, e, time.Now().UTC().UnixMilli())
		return err
	})
	return stored, err
}

// appendEntry assigns the next per-device seq and inserts e.  The single
// writer makes MAX(seq)+1 race free.
func appendEntry(ctx context.Context, tx *sql.Tx, e types.DoorLogEntry, nowMs int64) (types.DoorLogEntry, error) {
	if err := ensureDevice(ctx, tx, e.DeviceID, kindLock, nowMs); err != nil {
		return types.DoorLogEntry{}, err
	}

	var next int64
	if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(seq), 0) + 1 FROM door_log WHERE device_id = ?;
`, e.DeviceID).Scan(&next); err != nil {
		return types.DoorLogEntry{}, fmt.Errorf("appendEntry next seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO door_log(device_id, seq, event, status, ts_ms, recorded_at_ms)
VALUES (?, ?, ?, ?, ?, ?);
`, e.DeviceID, next, string(e.Event), string(e.Status), toMs(e.Timestamp), nowMs); err != nil {
		return types.DoorLogEntry{}, fmt.Errorf("appendEntry insert: %w", err)
	}

	e.Seq = uint64(next)
	return e, nil
}

func (s *DoorLogStore) QueryByDevice(ctx context.Context, deviceID string, from, to time.Time) ([]types.DoorLogEntry, error) {
	conds := []string{"device_id = ?"}
	args := []any{deviceID}
	if !from.IsZero() {
		conds = append(conds, "ts_ms >= ?")
		args = append(args, toMs(from))
	}
	if !to.IsZero() {
		conds = append(conds, "ts_ms <= ?")
		args = append(args, toMs(to))
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT seq, event, status, ts_ms
FROM door_log
WHERE `+strings.Join(conds, " AND ")+`
ORDER BY seq ASC;
`, args...)
	if err != nil {
		return nil, fmt.Errorf("QueryByDevice: %w", err)
	}
	defer rows.Close()

	var out []types.DoorLogEntry
	for rows.Next() {
		var (
			seq           int64
			event, status string
			tsMs          int64
		)
		if err := rows.Scan(&seq, &event, &status, &tsMs); err != nil {
			return nil, fmt.Errorf("QueryByDevice scan: %w", err)
		}
		out = append(out, types.DoorLogEntry{
			DeviceID:  deviceID,
			Event:     types.DoorEventKind(event),
			Status:    types.LockStatus(status),
			Timestamp: fromMs(tsMs),
			Seq:       uint64(seq),
		})
	}
	return out, rows.Err()
}
