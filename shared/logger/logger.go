package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Config holds logger configuration
type Config struct {
	Level        string // debug, info, warn, error
	Format       string // json, text
	Output       string // stdout or stderr
	EnableCaller bool   // include source code location
	Service      string // service name attached to every record

	writer io.Writer // test hook
}

// New creates a slog logger from the given configuration. Text output
// uses tint for colorized console logs, json output uses the standard
// JSON handler.
func New(cfg Config) *slog.Logger {
	level := parseLevel(cfg.Level)

	writer := cfg.writer
	if writer == nil {
		switch cfg.Output {
		case "stderr":
			writer = os.Stderr
		default:
			writer = os.Stdout
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level:     level,
			AddSource: cfg.EnableCaller,
		})
	default:
		handler = tint.NewHandler(writer, &tint.Options{
			Level:      level,
			AddSource:  cfg.EnableCaller,
			TimeFormat: time.RFC3339,
		})
	}

	log := slog.New(handler)
	if cfg.Service != "" {
		log = log.With(slog.String("service", cfg.Service))
	}

	return log
}

// NewDefault creates a logger with default settings (text format, info level)
func NewDefault() *slog.Logger {
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	}))
}

// parseLevel converts string level to slog.Level
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
