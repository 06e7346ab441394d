// Package logging configures the process wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Level is shared by every handler built here, so it can be raised or lowered
// after Setup.
var Level = new(slog.LevelVar)

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
}

type Format string

const (
	Text Format = "text"
	JSON Format = "json"
)

type Config struct {
	Level  string
	Format Format
	// File receives the log instead of Writer when set.
	File   string
	Writer io.Writer
}

// Setup installs the default logger described by cfg. The returned func
// releases the log file, if any.
func Setup(cfg Config) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	Level.Set(level)

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	closer := func() error { return nil }

	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = file
		closer = file.Close
	}

	var handler slog.Handler
	switch cfg.Format {
	case JSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: Level})
	case Text, "":
		handler = tint.NewHandler(w, &tint.Options{
			Level:      Level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(w),
		})
	default:
		_ = closer()
		return nil, nil, fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closer, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DebugTimeElapsed logs message with the time spent since the call, when the
// returned func runs.
func DebugTimeElapsed(logger *slog.Logger, message string) func() {
	start := time.Now()
	return func() {
		logger.Debug(message, "ms", float64(time.Since(start).Microseconds())/1000)
	}
}
