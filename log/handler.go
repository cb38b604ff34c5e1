package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// NewTerminalHandler returns a slog.Handler that renders records as
// human-readable "LVL[timestamp] msg key=value ..." lines, the format the
// teacher's log package defaults to on an interactive terminal.
func NewTerminalHandler(w io.Writer) slog.Handler {
	return &terminalHandler{w: w}
}

type terminalHandler struct {
	mu     sync.Mutex
	w      io.Writer
	attrs  []slog.Attr
	groups []string
}

func (h *terminalHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(levelString(r.Level))
	b.WriteByte('[')
	b.WriteString(r.Time.Format(time.RFC3339))
	b.WriteString("] ")
	b.WriteString(r.Message)

	kvs := make([]string, 0, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		kvs = append(kvs, formatAttr(a))
	}
	r.Attrs(func(a slog.Attr) bool {
		kvs = append(kvs, formatAttr(a))
		return true
	})
	sort.Strings(kvs)
	for _, kv := range kvs {
		b.WriteByte(' ')
		b.WriteString(kv)
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := &terminalHandler{w: h.w, groups: h.groups}
	n.attrs = append(append(n.attrs, h.attrs...), attrs...)
	return n
}

func (h *terminalHandler) WithGroup(name string) slog.Handler {
	n := &terminalHandler{w: h.w, attrs: h.attrs}
	n.groups = append(append(n.groups, h.groups...), name)
	return n
}

func formatAttr(a slog.Attr) string {
	return fmt.Sprintf("%s=%v", a.Key, a.Value.Any())
}

func levelString(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERRO"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DBUG"
	}
}

// NewJSONHandler returns a slog.Handler emitting one JSON object per line,
// selected by cmd/* when --log.json is passed.
func NewJSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, nil)
}
