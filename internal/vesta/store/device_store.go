package store

import (
	"context"
	"time"
)

// DeviceStore answers whether a device has been registered.
type DeviceStore interface {
	IsKnown(ctx context.Context, deviceID string) (bool, error)
	MarkSeen(ctx context.Context, deviceID string, known bool, t time.Time) error
}

// RecipientStore resolves a device to the identities that want its alerts.
type RecipientStore interface {
	Recipients(ctx context.Context, deviceID string) ([]string, error)
}
