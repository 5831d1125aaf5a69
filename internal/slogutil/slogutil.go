package slogutil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// silent is above every standard level.
const silent = slog.Level(100)

// NewHandler returns a handler writing to w in the given format: "json" for
// slog's JSON records, anything else for the line format.
func NewHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return NewLineHandler(w, opts)
}

// NewLogger returns a line-format logger.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewHandler(w, level, "human"))
}

// NewDiscardLogger returns a logger that drops every record.
func NewDiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns logger, or a discard logger when it is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return NewDiscardLogger()
	}
	return logger
}

// LevelFromString maps debug, info, warn and error to a level. Anything else is info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
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

// LevelFromVerbosity maps the CLI's -q and -v count to a console level: quiet
// silences everything, then warn, info and debug for 0, 1 and 2+.
func LevelFromVerbosity(verbosity int, quiet bool) slog.Level {
	switch {
	case quiet:
		return silent
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// fanout sends each record to every sink enabled for its level. The CLI uses it
// to log to the console and the workspace log file at independent levels.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}
