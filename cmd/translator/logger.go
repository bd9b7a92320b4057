package main

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"

	"chat-translator/internal/config"
)

// newLogger builds the process logger. Text output is colorized for
// terminals; json is the default for deployed services.
func newLogger(w io.Writer, cfg config.Config, cli *CLI) *slog.Logger {
	level, format := cfg.LogLevel, cfg.LogFormat
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}

	if format == "text" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level: parseLogLevel(level),
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(levelStr string) slog.Level {
	switch levelStr {
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
