package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/service"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store/memory"
)

func TestDedupePruner_DisabledWhenIntervalZero(t *testing.T) {
	p := service.NewDedupePruner(memory.NewDedupeStore(), 0, zap.NewNop().Sugar())

	p.Start(context.Background())
	p.Stop()
}

func TestDedupePruner_PrunesOnStart(t *testing.T) {
	ds := memory.NewDedupeStore()
	ctx := context.Background()

	ok, err := ds.Reserve(ctx, "gas-1|fan_on", time.Millisecond, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = ds.Reserve(ctx, "gas-1|fan_off", time.Hour, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	p := service.NewDedupePruner(ds, time.Hour, nil)
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool { return ds.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestDedupePruner_StopIsIdempotent(t *testing.T) {
	p := service.NewDedupePruner(memory.NewDedupeStore(), time.Hour, nil)
	p.Start(context.Background())

	p.Stop()
	p.Stop()
	assert.NotNil(t, p)
}
