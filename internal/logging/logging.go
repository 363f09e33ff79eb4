// Package logging configures the process-wide slog logger and hands out
// per-component child loggers.
//
// Output goes to stderr (colorized via tint when stderr is a terminal, JSON
// otherwise) and, when a file is configured, to a size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names the subsystem a log line originates from.
type Component string

const (
	CompEngine    Component = "engine"
	CompLoader    Component = "loader"
	CompCache     Component = "cache"
	CompHighlight Component = "highlight"
	CompWeb       Component = "web"
	CompConfig    Component = "config"
	CompCLI       Component = "cli"
)

// Config controls where and how log records are written.
type Config struct {
	Level      string `toml:"level"`  // debug, info, warn, error
	Format     string `toml:"format"` // auto, text, json
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

var base atomic.Pointer[slog.Logger]

func init() {
	base.Store(slog.Default())
}

// Setup builds the root logger from cfg and installs it as the slog default.
// The returned closer flushes and closes the rotated log file, if any.
func Setup(cfg Config) (io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	handlers := []slog.Handler{consoleHandler(os.Stderr, cfg.Format, level)}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   cfg.Compress,
		}
		handlers = append(handlers, slog.NewJSONHandler(rotated, &slog.HandlerOptions{Level: level}))
		closer = rotated
	}

	var h slog.Handler = handlers[0]
	if len(handlers) > 1 {
		h = fanout(handlers)
	}

	logger := slog.New(h)
	SetLogger(logger)
	return closer, nil
}

// SetLogger replaces the root logger. Components that already captured a
// child logger keep writing to the previous one.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = Discard()
	}
	base.Store(l)
	slog.SetDefault(l)
}

// Logger returns the root logger.
func Logger() *slog.Logger {
	return base.Load()
}

// ForComponent returns a child logger tagged with the component name.
func ForComponent(c Component) *slog.Logger {
	return base.Load().With(slog.String("component", string(c)))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
}

func consoleHandler(f *os.File, format string, level slog.Level) slog.Handler {
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})
	case "text":
		return tint.NewHandler(f, &tint.Options{Level: level, TimeFormat: time.TimeOnly, NoColor: true})
	}
	if term.IsTerminal(int(f.Fd())) {
		return tint.NewHandler(f, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	}
	return slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
