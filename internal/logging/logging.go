// Package logging configures slog for gatewayctl.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig enables a rotating log file next to console output.
type FileConfig struct {
	// Path is the log file; empty disables file logging.
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

type Config struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string
	JSON  bool
	File  FileConfig
}

// Logger is a configured logger plus the file it may own.
type Logger struct {
	*slog.Logger
	file io.Closer
}

// New builds a logger writing to console and, if configured, to a rotating
// file. The file always records at debug level.
func New(cfg Config, console io.Writer) *Logger {
	level := ParseLevel(cfg.Level)

	newHandler := func(w io.Writer, l slog.Level) slog.Handler {
		opts := &slog.HandlerOptions{Level: l}
		if cfg.JSON {
			return slog.NewJSONHandler(w, opts)
		}
		return slog.NewTextHandler(w, opts)
	}

	consoleHandler := newHandler(console, level)

	if cfg.File.Path == "" {
		return &Logger{Logger: slog.New(consoleHandler)}
	}

	maxSize := cfg.File.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}

	maxBackups := cfg.File.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.File.Path,
		MaxSize:    maxSize, // megabytes
		MaxBackups: maxBackups,
		Compress:   cfg.File.Compress,
	}

	handler := &fanout{handlers: []slog.Handler{
		consoleHandler,
		newHandler(lj, slog.LevelDebug),
	}}

	return &Logger{Logger: slog.New(handler), file: lj}
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}

	return l.file.Close()
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// fanout sends each record to every handler enabled at its level.
type fanout struct {
	handlers []slog.Handler
}

func (h *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}

		if err := handler.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (h *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &fanout{handlers: handlers}
}

func (h *fanout) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &fanout{handlers: handlers}
}
