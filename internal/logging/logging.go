// Package logging wires the process-wide slog default from the log
// configuration: text handler, optional rotating file output.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/olekit/olekit/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup installs the default logger. When cfg.File is set, output goes to
// a size-rotated file instead of stderr.
func Setup(cfg config.LogConfig) {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})
	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a config level string to a slog level, defaulting to
// info on anything unrecognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
