package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			require.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := WithSource(WithRun(New(Config{Level: "info", Format: "json", Output: &buf}), "run-1"), "ulsan")

	logger.Debug("hidden")
	logger.Info("scraped", "count", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "scraped", record["msg"])
	require.Equal(t, "run-1", record["run_id"])
	require.Equal(t, "ulsan", record["source"])
	require.Equal(t, 3.0, record["count"])
}

func TestNewTextDefault(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Format: "bogus", Output: &buf}).Warn("careful")
	require.Contains(t, buf.String(), "level=WARN")
	require.Contains(t, buf.String(), "msg=careful")
}
