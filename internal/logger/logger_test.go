package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		" INFO ":  zapcore.InfoLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got)
	}

	got, ok := ParseLogLevel("verbose")
	require.False(t, ok)
	require.Equal(t, zapcore.InfoLevel, got)
}

func TestContextLoggerCarriesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(zapcore.DebugLevel, "json", &buf)

	ctx := ToContext(context.Background(), l)
	ctx = WithKV(ctx, "device_id", "door-001")
	InfoKV(ctx, "lock transition", "to", "unlocked")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "lock transition", entry["message"])
	require.Equal(t, "door-001", entry["device_id"])
	require.Equal(t, "unlocked", entry["to"])
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}
