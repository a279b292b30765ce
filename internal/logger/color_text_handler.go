package logger

import (
	"context"
	"io"
	"log/slog"
)

const colorReset = "\033[0m"

var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\033[36m", // cyan
	slog.LevelInfo:  "\033[32m", // green
	slog.LevelWarn:  "\033[33m", // yellow
	slog.LevelError: "\033[31m", // red
}

// ColorTextHandler wraps slog.TextHandler and prefixes each message with an
// ANSI-colored level tag.
type ColorTextHandler struct {
	slog.Handler
}

// NewColorTextHandler creates a new ColorTextHandler writing to w.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColorTextHandler {
	return &ColorTextHandler{Handler: slog.NewTextHandler(w, opts)}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	code, ok := levelColors[r.Level]
	if !ok {
		code = colorReset
	}
	r.Message = code + r.Level.String() + colorReset + "  " + r.Message
	return h.Handler.Handle(ctx, r)
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{Handler: h.Handler.WithGroup(name)}
}
