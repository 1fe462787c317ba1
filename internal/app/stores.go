package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Vesta/server/internal/config"
	"github.com/BrandonDHaskell/Vesta/server/internal/db"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/service"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store/memory"
	redisstore "github.com/BrandonDHaskell/Vesta/server/internal/vesta/store/redis"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store/sqlite"
)

// stores bundles the persistence backends picked by configuration.
type stores struct {
	states     store.StateStore
	doorLog    store.DoorLogStore
	devices    store.DeviceStore
	recipients store.RecipientStore

	// ping is nil for backends that cannot fail.
	ping  func(ctx context.Context) error
	close func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Database.Backend {
	case "memory":
		ms := memory.New()
		return &stores{
			states:     ms,
			doorLog:    ms,
			devices:    memory.NewDeviceStore(cfg.Ingest.KnownDevices),
			recipients: memory.NewRecipientDirectory(cfg.Recipients),
			close:      func() {},
		}, nil

	case "sqlite", "":
		sqlDB, err := db.Open(ctx, db.Config{Path: cfg.Database.Path, Env: cfg.Env})
		if err != nil {
			return nil, err
		}
		if err := prepareSQLite(ctx, sqlDB, cfg); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}

		writer := db.NewWorker(sqlDB)
		return &stores{
			states:     sqlite.NewStateStore(sqlDB, writer),
			doorLog:    sqlite.NewDoorLogStore(sqlDB, writer),
			devices:    sqlite.NewDeviceStore(sqlDB, writer),
			recipients: sqlite.NewRecipientStore(sqlDB),
			ping:       sqlDB.PingContext,
			close: func() {
				writer.Close()
				_ = sqlDB.Close()
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}

func prepareSQLite(ctx context.Context, sqlDB *sql.DB, cfg *config.Config) error {
	if err := db.Migrate(ctx, sqlDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	// Config is the source of truth for known devices and recipients in
	// both environments; seeding is idempotent.
	return db.SeedDev(ctx, sqlDB, db.SeedDevOptions{
		KnownDevices: cfg.Ingest.KnownDevices,
		Recipients:   cfg.Recipients,
	})
}

// dedupe is the alert dedupe backend plus its optional pruner.
type dedupe struct {
	store  store.DedupeStore
	pruner *service.DedupePruner
	ping   func(ctx context.Context) error
	close  func()
}

func openDedupe(ctx context.Context, cfg *config.Config, l *zap.SugaredLogger) (*dedupe, error) {
	switch cfg.Alert.DedupeBackend {
	case "redis":
		client, err := redisstore.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		return &dedupe{
			store: redisstore.NewDedupeStore(client, cfg.Redis.KeyPrefix),
			ping:  func(ctx context.Context) error { return client.Ping(ctx).Err() },
			close: func() { _ = client.Close() },
		}, nil

	case "memory", "":
		ds := memory.NewDedupeStore()
		return &dedupe{
			store:  ds,
			pruner: service.NewDedupePruner(ds, cfg.Alert.PruneInterval, l.Named("dedupe-pruner")),
			close:  func() {},
		}, nil

	default:
		return nil, fmt.Errorf("unknown dedupe backend %q", cfg.Alert.DedupeBackend)
	}
}
