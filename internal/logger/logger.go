package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where and how the service logs.
// Level is one of debug, info, warn, error. Format is text or json.
// Color only applies to the text format on the console.
type Config struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Color  bool       `mapstructure:"color"`
	File   FileConfig `mapstructure:"file"`
}

// FileConfig enables rotated file output. Rotation parameters follow
// lumberjack semantics; an empty Path keeps logging on stderr.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Writer returns the rotating file writer, or nil when no Path is set.
func (f FileConfig) Writer() io.WriteCloser {
	if f.Path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   f.Path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

// ParseLevel maps a level name to slog.Level. Empty means info.
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
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds a slog.Logger from cfg. The returned closer releases the log
// file and is a no-op for console output.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if fw := cfg.File.Writer(); fw != nil {
		w = fw
		closer = fw
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		if cfg.Color && cfg.File.Path == "" {
			h = NewColorTextHandler(w, opts)
		} else {
			h = slog.NewTextHandler(w, opts)
		}
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(h), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
