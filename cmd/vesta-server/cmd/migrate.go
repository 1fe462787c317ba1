package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Vesta/server/internal/config"
	"github.com/BrandonDHaskell/Vesta/server/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Database.Backend == "memory" {
			return fmt.Errorf("database backend is memory, nothing to migrate")
		}

		ctx := cmd.Context()
		sqlDB, err := db.Open(ctx, db.Config{Path: cfg.Database.Path, Env: cfg.Env})
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		if err := db.Migrate(ctx, sqlDB); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		v, err := db.Version(ctx, sqlDB)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", v, cfg.Database.Path)
		return nil
	},
}
