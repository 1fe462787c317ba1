package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFilename is read when no path is given.  A missing default
// file is not an error; everything has a default.
const DefaultConfigFilename = "vesta.yaml"

type Config struct {
	Env        string              `yaml:"env"` // "dev" | "prod"
	HTTP       HTTPConfig          `yaml:"http"`
	GRPC       GRPCConfig          `yaml:"grpc"`
	Database   DatabaseConfig      `yaml:"database"`
	Logging    LoggingConfig       `yaml:"logging"`
	Lock       LockConfig          `yaml:"lock"`
	Ingest     IngestConfig        `yaml:"ingest"`
	Gas        GasConfig           `yaml:"gas"`
	Alert      AlertConfig         `yaml:"alert"`
	Redis      RedisConfig         `yaml:"redis"`
	MQTT       MQTTConfig          `yaml:"mqtt"`
	Influx     InfluxConfig        `yaml:"influxdb"`
	Recipients map[string][]string `yaml:"recipients"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type GRPCConfig struct {
	// Addr of the health server.  Empty disables it.
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
	Output string `yaml:"output"` // stdout | stderr | file path
}

type LockConfig struct {
	FailedAttemptThreshold uint          `yaml:"failed_attempt_threshold"`
	LockoutDuration        time.Duration `yaml:"lockout_duration"`
}

type IngestConfig struct {
	SkewTolerance time.Duration `yaml:"skew_tolerance"`
	// Strict rejects reports from devices not in KnownDevices.
	Strict       bool     `yaml:"strict"`
	KnownDevices []string `yaml:"known_devices"`
}

type GasConfig struct {
	TLow       float64       `yaml:"t_low"`
	THigh      float64       `yaml:"t_high"`
	SettleTime time.Duration `yaml:"settle_time"`
}

type AlertConfig struct {
	DedupeWindow time.Duration `yaml:"dedupe_window"`
	// LockedOutWindow defaults to lock.lockout_duration.
	LockedOutWindow time.Duration `yaml:"locked_out_window"`
	// FanWindow defaults to gas.settle_time.
	FanWindow       time.Duration `yaml:"fan_window"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryMaxBackoff time.Duration `yaml:"retry_max_backoff"`
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	// DedupeBackend is "memory" or "redis".
	DedupeBackend string        `yaml:"dedupe_backend"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // tcp://host:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         int    `yaml:"qos"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Env:      "dev",
		HTTP:     HTTPConfig{Addr: ":8080"},
		GRPC:     GRPCConfig{Addr: ":9090"},
		Database: DatabaseConfig{Backend: "sqlite", Path: "./data/vesta.db"},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Lock: LockConfig{
			FailedAttemptThreshold: 3,
			LockoutDuration:        60 * time.Second,
		},
		Ingest: IngestConfig{SkewTolerance: 5 * time.Second},
		Gas: GasConfig{
			TLow:       300,
			THigh:      500,
			SettleTime: 30 * time.Second,
		},
		Alert: AlertConfig{
			DedupeWindow:    60 * time.Second,
			RetryAttempts:   3,
			RetryBackoff:    200 * time.Millisecond,
			RetryMaxBackoff: 5 * time.Second,
			Workers:         4,
			QueueSize:       256,
			DedupeBackend:   "memory",
			PruneInterval:   time.Minute,
		},
		Redis: RedisConfig{URL: "redis://localhost:6379/0", KeyPrefix: "vesta:dedupe:"},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "vesta-server",
			QoS:         1,
			TopicPrefix: "vesta",
		},
		Influx: InfluxConfig{URL: "http://localhost:8086", Bucket: "vesta"},
	}
}

// Load reads path over the defaults, applies VESTA_* environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(contents, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and fills windows derived from other settings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Lock.FailedAttemptThreshold < 1 {
		errs = append(errs, errors.New("lock.failed_attempt_threshold must be >= 1"))
	}
	if cfg.Lock.LockoutDuration <= 0 {
		errs = append(errs, errors.New("lock.lockout_duration must be > 0"))
	}
	if cfg.Ingest.SkewTolerance < 0 {
		errs = append(errs, errors.New("ingest.skew_tolerance must be >= 0"))
	}
	if cfg.Gas.TLow < 0 || cfg.Gas.TLow >= cfg.Gas.THigh {
		errs = append(errs, fmt.Errorf("gas thresholds must satisfy 0 <= t_low < t_high, got %v and %v",
			cfg.Gas.TLow, cfg.Gas.THigh))
	}
	if cfg.Alert.RetryAttempts < 1 {
		errs = append(errs, errors.New("alert.retry_attempts must be >= 1"))
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1 or 2"))
	}

	switch cfg.Alert.DedupeBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("alert.dedupe_backend %q is not memory or redis", cfg.Alert.DedupeBackend))
	}
	switch cfg.Database.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.backend %q is not memory or sqlite", cfg.Database.Backend))
	}

	env := strings.ToLower(cfg.Env)
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}
	cfg.Env = env

	if cfg.Alert.LockedOutWindow <= 0 {
		cfg.Alert.LockedOutWindow = cfg.Lock.LockoutDuration
	}
	if cfg.Alert.FanWindow <= 0 {
		cfg.Alert.FanWindow = cfg.Gas.SettleTime
	}

	return errors.Join(errs...)
}
