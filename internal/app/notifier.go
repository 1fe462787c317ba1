package app

import (
	"context"

	"github.com/BrandonDHaskell/Vesta/server/internal/logger"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// logNotifier stands in for a transport when MQTT is disabled.  Every
// alert is written to the log and counts as delivered.
type logNotifier struct{}

func (logNotifier) Notify(ctx context.Context, recipient string, a types.AlertRecord) error {
	logger.InfoKV(ctx, "alert",
		"alert_id", a.ID,
		"recipient", recipient,
		"device_id", a.DeviceID,
		"kind", a.Kind,
		"raised_at", a.RaisedAt,
	)
	return nil
}
