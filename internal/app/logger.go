package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger. LOG_FORMAT=json switches to JSON lines;
// every record carries the service name and environment.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: parseLevel("")}
	format, env := "", "development"
	if cfg != nil {
		opts.Level = parseLevel(cfg.LogLevel)
		format, env = cfg.LogFormat, cfg.AppEnv
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("service", "odyssey-wms"), slog.String("env", env))
}

func parseLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
