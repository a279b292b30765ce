package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestFileWriter_Defaults(t *testing.T) {
	if w := (FileConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer without path")
	}
	w := FileConfig{Path: "x.log"}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
}

func TestFileWriter_Overrides(t *testing.T) {
	w := FileConfig{Path: "y.log", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}.Writer()
	l := w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNew_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.log")
	log, closer, err := New(Config{Level: "debug", Format: "json", File: FileConfig{Path: path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("timer recovered", "key", "manifest_timer_countdown_a")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"timer recovered"`) || !strings.Contains(string(b), `"key":"manifest_timer_countdown_a"`) {
		t.Fatalf("unexpected log contents: %s", b)
	}
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	if _, _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestNew_ConsoleCloserIsNoop(t *testing.T) {
	log, closer, err := New(Config{Color: true})
	if err != nil || log == nil {
		t.Fatalf("New: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestColorTextHandler_PrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, nil)).With("mode", "countdown")
	log.Warn("store unavailable")
	out := buf.String()
	// the text handler quotes control characters, so look for the escaped form
	if !strings.Contains(out, `\x1b[33mWARN\x1b[0m`) {
		t.Fatalf("missing colored level: %q", out)
	}
	if !strings.Contains(out, "mode=countdown") {
		t.Fatalf("attrs lost through WithAttrs: %q", out)
	}
}
