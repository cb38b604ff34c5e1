// Package log is a thin structured-logging wrapper around log/slog, named
// and shaped after the teacher's own github.com/ethereum/go-ethereum/log
// package: a package-level root logger, a New constructor that takes
// variadic key/value context, and Info/Debug/Warn/Error/Crit methods that
// take a message followed by key/value pairs.
package log

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the interface every tier logs through. It is satisfied by *wrap.
type Logger interface {
	With(ctx ...any) Logger
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
}

type wrap struct {
	inner *slog.Logger
}

func (w *wrap) With(ctx ...any) Logger {
	return &wrap{inner: w.inner.With(ctx...)}
}

func (w *wrap) Debug(msg string, ctx ...any) { w.inner.Debug(msg, ctx...) }
func (w *wrap) Info(msg string, ctx ...any)  { w.inner.Info(msg, ctx...) }
func (w *wrap) Warn(msg string, ctx ...any)  { w.inner.Warn(msg, ctx...) }
func (w *wrap) Error(msg string, ctx ...any) { w.inner.Error(msg, ctx...) }

// Crit logs at error level and terminates the process. Reserved for
// invariant violations discovered at startup (e.g. an unparsable listen
// address) where continuing would just relocate the failure.
func (w *wrap) Crit(msg string, ctx ...any) {
	w.inner.Error(msg, ctx...)
	os.Exit(1)
}

var root Logger = &wrap{inner: slog.New(NewTerminalHandler(os.Stderr))}

// Root returns the package-level logger every tier logs through by default.
func Root() Logger { return root }

// SetRoot replaces the package-level logger, used by cmd/* to switch to a
// JSON handler when --log.json is set.
func SetRoot(l Logger) { root = l }

// New returns a logger derived from the current Root() carrying the given
// key/value context. It is bound to the root in place at call time and does
// not track later SetRoot calls.
func New(ctx ...any) Logger {
	return root.With(ctx...)
}

// NewWithHandler builds a Logger on top of an arbitrary slog.Handler, used
// by cmd/* to switch to NewJSONHandler when --log.json is set.
func NewWithHandler(h slog.Handler) Logger {
	return &wrap{inner: slog.New(h)}
}

// FromContext extracts a Logger previously attached with NewContext, or
// Root() if none was attached. Used by rpcflight handlers to carry a
// query-scoped logger through a call chain without threading an explicit
// parameter everywhere.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return Root()
}

// NewContext attaches l to ctx for later retrieval with FromContext.
func NewContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

type loggerKey struct{}
