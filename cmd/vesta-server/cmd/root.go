package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Vesta/server/internal/app"
	"github.com/BrandonDHaskell/Vesta/server/internal/config"
	"github.com/BrandonDHaskell/Vesta/server/internal/version"
)

var (
	// configPath to the YAML configuration file.
	configPath string
	// httpAddr overrides http.addr from the config.
	httpAddr string

	rootCmd = &cobra.Command{
		Use:   "vesta-server",
		Short: "Run the Vesta device state and alerting engine.",
		Long: `Ingests lock, door and gas reports over HTTP and MQTT, keeps per-device
state with lockout and hysteresis rules, writes the door audit log and
dispatches deduplicated alerts.

Settings come from the YAML config file, then VESTA_* environment variables.`,
		SilenceUsage: true,
		RunE:         serve,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the server (default when no subcommand is given).",
		RunE:  serve,
	}
)

func serve(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return app.Run(ctx, &app.Options{
		ConfigPath: configPath,
		HTTPAddr:   httpAddr,
	})
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	rootCmd.AddCommand(serveCmd, migrateCmd, version.Command())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra flag registration.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides config)")
	}
}
