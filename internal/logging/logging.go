// Package logging builds the process logger: a slog JSON handler writing to
// stdout, stderr, or a size-rotated file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dskow/luis-proxy/internal/config"
)

// ParseLevel converts a level name to a slog.Level. Empty and unknown
// names map to Info.
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

// NewWriter opens the log destination. Files are rotated by lumberjack
// once they reach MaxSizeMB; the returned closer is a no-op for stdout and
// stderr.
func NewWriter(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "", "stdout":
		return nopCloser{os.Stdout}, nil
	case "stderr":
		return nopCloser{os.Stderr}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}, nil
}

// New returns a JSON logger writing to w at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Setup builds the logger described by cfg. levelOverride, when non-empty,
// replaces cfg.Level. The caller closes the returned writer on exit.
func Setup(cfg config.LoggingConfig, levelOverride string) (*slog.Logger, io.Closer, error) {
	w, err := NewWriter(cfg)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Level
	if levelOverride != "" {
		level = levelOverride
	}
	return New(w, ParseLevel(level)), w, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
