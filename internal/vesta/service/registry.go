package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// DeviceRegistry owns per-device state.  It reads through to the state
// store and caches what was committed; callers must hold the device lock
// between Resolve and Put.
type DeviceRegistry struct {
	states     store.StateStore
	devices    store.DeviceStore
	recipients store.RecipientStore
	strict     bool

	mu    sync.RWMutex
	locks map[string]types.LockState
	gas   map[string]types.GasReadingState
}

// RegistryConfig controls first-sight behaviour.
type RegistryConfig struct {
	// Strict rejects devices the device store does not know instead of
	// provisioning default state.
	Strict bool
}

func NewDeviceRegistry(
	states store.StateStore,
	devices store.DeviceStore,
	recipients store.RecipientStore,
	cfg RegistryConfig,
) *DeviceRegistry {
	return &DeviceRegistry{
		states:     states,
		devices:    devices,
		recipients: recipients,
		strict:     cfg.Strict,
		locks:      make(map[string]types.LockState),
		gas:        make(map[string]types.GasReadingState),
	}
}

// ResolveLock returns the current lock state, provisioning the default
// state on first sight.  created reports whether the default was used.
// Provisioned state is not cached until PutLock.
func (r *DeviceRegistry) ResolveLock(ctx context.Context, deviceID string) (st types.LockState, created bool, err error) {
	st, ok, err := r.PeekLock(ctx, deviceID)
	if err != nil {
		return types.LockState{}, false, err
	}
	if ok {
		return st, false, nil
	}
	if err := r.admitNew(ctx, deviceID); err != nil {
		return types.LockState{}, false, err
	}
	return types.DefaultLockState(deviceID), true, nil
}

// ResolveGas is ResolveLock for gas sensors.
func (r *DeviceRegistry) ResolveGas(ctx context.Context, deviceID string) (st types.GasReadingState, created bool, err error) {
	st, ok, err := r.PeekGas(ctx, deviceID)
	if err != nil {
		return types.GasReadingState{}, false, err
	}
	if ok {
		return st, false, nil
	}
	if err := r.admitNew(ctx, deviceID); err != nil {
		return types.GasReadingState{}, false, err
	}
	return types.DefaultGasState(deviceID), true, nil
}

// PeekLock returns stored lock state without provisioning.
func (r *DeviceRegistry) PeekLock(ctx context.Context, deviceID string) (types.LockState, bool, error) {
	r.mu.RLock()
	st, ok := r.locks[deviceID]
	r.mu.RUnlock()
	if ok {
		return st.Clone(), true, nil
	}

	st, ok, err := r.states.LoadLock(ctx, deviceID)
	if err != nil {
		return types.LockState{}, false, fmt.Errorf("load lock state %s: %w", deviceID, err)
	}
	if ok {
		r.mu.Lock()
		r.locks[deviceID] = st.Clone()
		r.mu.Unlock()
	}
	return st, ok, nil
}

// PeekGas returns stored gas state without provisioning.
func (r *DeviceRegistry) PeekGas(ctx context.Context, deviceID string) (types.GasReadingState, bool, error) {
	r.mu.RLock()
	st, ok := r.gas[deviceID]
	r.mu.RUnlock()
	if ok {
		return st, true, nil
	}

	st, ok, err := r.states.LoadGas(ctx, deviceID)
	if err != nil {
		return types.GasReadingState{}, false, fmt.Errorf("load gas state %s: %w", deviceID, err)
	}
	if ok {
		r.mu.Lock()
		r.gas[deviceID] = st
		r.mu.Unlock()
	}
	return st, ok, nil
}

// PutLock records committed state.  Call only after the store commit
// succeeded.
func (r *DeviceRegistry) PutLock(st types.LockState) {
	r.mu.Lock()
	r.locks[st.DeviceID] = st.Clone()
	r.mu.Unlock()
}

// PutGas records committed state.
func (r *DeviceRegistry) PutGas(st types.GasReadingState) {
	r.mu.Lock()
	r.gas[st.DeviceID] = st
	r.mu.Unlock()
}

// Recipients lists who should hear about deviceID.
func (r *DeviceRegistry) Recipients(ctx context.Context, deviceID string) ([]string, error) {
	if r.recipients == nil {
		return nil, nil
	}
	return r.recipients.Recipients(ctx, deviceID)
}

func (r *DeviceRegistry) IsKnown(ctx context.Context, deviceID string) (bool, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || r.devices == nil {
		return false, nil
	}
	return r.devices.IsKnown(ctx, deviceID)
}

func (r *DeviceRegistry) NoteSeen(ctx context.Context, deviceID string, known bool) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || r.devices == nil {
		return nil
	}
	return r.devices.MarkSeen(ctx, deviceID, known, time.Now().UTC())
}

func (r *DeviceRegistry) admitNew(ctx context.Context, deviceID string) error {
	if !r.strict {
		return nil
	}
	known, err := r.IsKnown(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("check device %s: %w", deviceID, err)
	}
	if !known {
		return fmt.Errorf("%w: %s", types.ErrUnknownDevice, deviceID)
	}
	return nil
}
