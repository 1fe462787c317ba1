package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registers the pure-Go "sqlite" driver; no cgo toolchain needed on
	// the gateway boxes.
	_ "modernc.org/sqlite"
)

const (
	defaultPath        = "./data/vesta.db"
	defaultBusyTimeout = 5 * time.Second
	pingTimeout        = 3 * time.Second
)

// Config locates the database.  Env picks the durability level: prod
// syncs every commit (door log entries survive power loss), dev syncs at
// WAL checkpoints only.
type Config struct {
	Path        string
	Env         string // "dev" | "prod"
	BusyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = defaultPath
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	return c
}

// DSN renders the modernc.org/sqlite connection string.  PRAGMAs given
// this way are applied to every new connection.
func (c Config) DSN() string {
	c = c.withDefaults()

	synchronous := "NORMAL"
	if c.Env == "prod" {
		synchronous = "FULL"
	}

	pragmas := []string{
		"foreign_keys(1)",
		"journal_mode(WAL)",
		"synchronous(" + synchronous + ")",
		fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()),
	}
	for i, p := range pragmas {
		pragmas[i] = "_pragma=" + p
	}
	return "file:" + c.Path + "?" + strings.Join(pragmas, "&")
}

// Open creates the parent directory, connects, and brings the schema up
// to date.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	cfg = cfg.withDefaults()

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir %s: %w", filepath.Dir(cfg.Path), err)
	}

	conn, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}

	// One connection, and Worker is its only writer.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", cfg.Path, err)
	}

	if err := Migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
