// Package log provides the small structured logger used throughout the
// daemon. The teacher's orchestrator logs via a single progress writer
// (Orchestrator.logf, "  → "+format) passed around as an io.Writer; this
// package promotes that idea into a leveled, structured logger built on
// the standard library's log/slog, since nothing else in the example pack
// imports a third-party logging library.
package log

import (
	"context"
	"io"
	"log/slog"
)

// Logger wraps an *slog.Logger with the small surface the rest of the
// module needs. It exists mainly so call sites say log.New(...) and
// l.Warn(msg, "key", val) without depending on slog's handler plumbing
// directly.
type Logger struct {
	inner *slog.Logger
}

// New returns a Logger writing leveled, structured text to w.
func New(w io.Writer, level slog.Level) *Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{inner: slog.New(handler)}
}

// Discard returns a Logger that drops everything, for tests.
func Discard() *Logger {
	return &Logger{inner: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (l *Logger) Debug(msg string, kvs ...any) { l.inner.Debug(msg, kvs...) }
func (l *Logger) Info(msg string, kvs ...any)   { l.inner.Info(msg, kvs...) }
func (l *Logger) Warn(msg string, kvs ...any)   { l.inner.Warn(msg, kvs...) }
func (l *Logger) Error(msg string, kvs ...any)  { l.inner.Error(msg, kvs...) }

// With returns a Logger that always includes kvs, e.g. a per-pipeline
// logger carrying "pipeline" as a fixed field.
func (l *Logger) With(kvs ...any) *Logger {
	return &Logger{inner: l.inner.With(kvs...)}
}

// WithContext is a no-op hook kept for call sites that thread a context
// through logging (e.g. to pick up a request id later); it currently just
// returns l unchanged since no context-scoped fields exist yet.
func (l *Logger) WithContext(_ context.Context) *Logger { return l }
