package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		checkFunc func(t *testing.T, log *slog.Logger, output *bytes.Buffer)
	}{
		{
			name:  "debug level passes debug records",
			level: "debug",
			checkFunc: func(t *testing.T, log *slog.Logger, output *bytes.Buffer) {
				log.Debug("test debug message", slog.String("key", "value"))

				var logEntry map[string]interface{}
				err := json.Unmarshal(output.Bytes(), &logEntry)
				require.NoError(t, err)

				assert.Equal(t, "DEBUG", logEntry["level"])
				assert.Equal(t, "test debug message", logEntry["msg"])
				assert.Equal(t, "value", logEntry["key"])
			},
		},
		{
			name:  "info level drops debug records",
			level: "info",
			checkFunc: func(t *testing.T, log *slog.Logger, output *bytes.Buffer) {
				log.Debug("debug message")
				log.Info("info message", slog.String("type", "test"))

				lines := strings.Split(strings.TrimSpace(output.String()), "\n")
				assert.Len(t, lines, 1)

				var logEntry map[string]interface{}
				err := json.Unmarshal([]byte(lines[0]), &logEntry)
				require.NoError(t, err)

				assert.Equal(t, "INFO", logEntry["level"])
				assert.Equal(t, "info message", logEntry["msg"])
			},
		},
		{
			name:  "error level drops warn records",
			level: "error",
			checkFunc: func(t *testing.T, log *slog.Logger, output *bytes.Buffer) {
				log.Warn("warn message")
				log.Error("error message", slog.String("code", "500"))

				lines := strings.Split(strings.TrimSpace(output.String()), "\n")
				assert.Len(t, lines, 1)

				var logEntry map[string]interface{}
				err := json.Unmarshal([]byte(lines[0]), &logEntry)
				require.NoError(t, err)

				assert.Equal(t, "ERROR", logEntry["level"])
				assert.Equal(t, "500", logEntry["code"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			log := New(Config{Level: tt.level, Format: "json", writer: output})
			require.NotNil(t, log)
			tt.checkFunc(t, log, output)
		})
	}
}

func TestNewTextFormat(t *testing.T) {
	output := &bytes.Buffer{}
	log := New(Config{Level: "info", Format: "text", writer: output})

	log.Info("console test")

	// tint renders the level as "INF"
	assert.Contains(t, output.String(), "INF")
	assert.Contains(t, output.String(), "console test")
}

func TestNewServiceAttribute(t *testing.T) {
	output := &bytes.Buffer{}
	log := New(Config{Level: "info", Format: "json", Service: "worker-service", writer: output})

	log.Info("started")

	var logEntry map[string]interface{}
	err := json.Unmarshal(output.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "worker-service", logEntry["service"])
}

func TestNewEnableCaller(t *testing.T) {
	output := &bytes.Buffer{}
	log := New(Config{Level: "info", Format: "json", EnableCaller: true, writer: output})

	log.Info("message with source")

	var logEntry map[string]interface{}
	err := json.Unmarshal(output.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Contains(t, logEntry, "source")
}

func TestNewDefault(t *testing.T) {
	log := NewDefault()
	require.NotNil(t, log)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseLevel(tt.level), "level %q", tt.level)
	}
}
