package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"none":    zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		require.True(t, ok, raw)
		require.Equal(t, want, got, raw)
	}
	_, ok := ParseLevel("")
	require.False(t, ok)
	_, ok = ParseLevel("loud")
	require.False(t, ok)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogBypass, "1")

	cfg := defaultConfig(ProfileRuntime)
	require.True(t, cfg.Timestamp)
	applyEnvOverrides(&cfg)
	require.Equal(t, zerolog.ErrorLevel, cfg.Level)
	require.False(t, cfg.Timestamp)
	require.True(t, cfg.Bypass)
}

func TestComponentLoggerBeforeConfigure(t *testing.T) {
	// must not panic with the default no-op logger
	l := Component("datalink")
	l.Info().Msg("noop")
	Infof("hello %d", 1)
}

func TestConsoleOmitsTimeColumnWithoutTimestamps(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: zerolog.InfoLevel, NoColor: true}, &buf)
	logger.Info().Str("terminal", "lane-1").Msg("connected")
	line := buf.String()
	require.False(t, strings.Contains(line, "<nil>"), line)
	require.True(t, strings.HasPrefix(line, "INF"), line)
	require.Contains(t, line, "terminal=lane-1")

	buf.Reset()
	logger = newLogger(Config{Level: zerolog.InfoLevel, NoColor: true, Timestamp: true}, &buf)
	logger.Info().Msg("connected")
	require.False(t, strings.HasPrefix(buf.String(), "INF"), buf.String())
}
