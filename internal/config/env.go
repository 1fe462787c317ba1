package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays VESTA_* variables.  Unparseable values are ignored.
func applyEnv(cfg *Config) {
	cfg.Env = getenvDefault("VESTA_ENV", cfg.Env)
	cfg.HTTP.Addr = getenvDefault("VESTA_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.GRPC.Addr = getenvDefault("VESTA_GRPC_ADDR", cfg.GRPC.Addr)

	cfg.Database.Backend = getenvDefault("VESTA_DB_BACKEND", cfg.Database.Backend)
	cfg.Database.Path = getenvDefault("VESTA_DB_PATH", cfg.Database.Path)

	cfg.Logging.Level = getenvDefault("VESTA_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getenvDefault("VESTA_LOG_FORMAT", cfg.Logging.Format)

	cfg.Lock.FailedAttemptThreshold = uint(getenvInt("VESTA_LOCK_THRESHOLD", int(cfg.Lock.FailedAttemptThreshold)))
	cfg.Lock.LockoutDuration = getenvDuration("VESTA_LOCKOUT_DURATION", cfg.Lock.LockoutDuration)

	cfg.Ingest.SkewTolerance = getenvDuration("VESTA_SKEW_TOLERANCE", cfg.Ingest.SkewTolerance)
	cfg.Ingest.Strict = getenvBool("VESTA_STRICT", cfg.Ingest.Strict)
	if known := splitCSV(os.Getenv("VESTA_KNOWN_DEVICES")); known != nil {
		cfg.Ingest.KnownDevices = known
	}

	cfg.Gas.TLow = getenvFloat("VESTA_GAS_T_LOW", cfg.Gas.TLow)
	cfg.Gas.THigh = getenvFloat("VESTA_GAS_T_HIGH", cfg.Gas.THigh)
	cfg.Gas.SettleTime = getenvDuration("VESTA_GAS_SETTLE_TIME", cfg.Gas.SettleTime)

	cfg.Alert.DedupeWindow = getenvDuration("VESTA_DEDUPE_WINDOW", cfg.Alert.DedupeWindow)
	cfg.Alert.RetryAttempts = getenvInt("VESTA_RETRY_ATTEMPTS", cfg.Alert.RetryAttempts)
	cfg.Alert.DedupeBackend = getenvDefault("VESTA_DEDUPE_BACKEND", cfg.Alert.DedupeBackend)

	cfg.Redis.URL = getenvDefault("VESTA_REDIS_URL", cfg.Redis.URL)

	cfg.MQTT.Enabled = getenvBool("VESTA_MQTT_ENABLED", cfg.MQTT.Enabled)
	cfg.MQTT.Broker = getenvDefault("VESTA_MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.Username = getenvDefault("VESTA_MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getenvDefault("VESTA_MQTT_PASSWORD", cfg.MQTT.Password)

	cfg.Influx.Enabled = getenvBool("VESTA_INFLUX_ENABLED", cfg.Influx.Enabled)
	cfg.Influx.URL = getenvDefault("VESTA_INFLUX_URL", cfg.Influx.URL)
	cfg.Influx.Token = getenvDefault("VESTA_INFLUX_TOKEN", cfg.Influx.Token)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
