package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestTerminalHandlerFormatsMessageAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewTerminalHandler(&buf))
	l.Info("scanner started", "query_id", "q1", "files", 3)

	got := buf.String()
	if !strings.Contains(got, "INFO[") {
		t.Errorf("expected level prefix, got %q", got)
	}
	if !strings.Contains(got, "scanner started") {
		t.Errorf("expected message, got %q", got)
	}
	if !strings.Contains(got, "query_id=q1") || !strings.Contains(got, "files=3") {
		t.Errorf("expected key/value pairs, got %q", got)
	}
}

func TestTerminalHandlerWithAttrsIsCumulative(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewTerminalHandler(&buf))
	child := base.With("zone", 2)
	child.Warn("slow prefetch")

	got := buf.String()
	if !strings.Contains(got, "zone=2") {
		t.Errorf("expected inherited attr, got %q", got)
	}
	if !strings.Contains(got, "WARN[") {
		t.Errorf("expected warn level, got %q", got)
	}
}

func TestRootLoggerSwap(t *testing.T) {
	original := Root()
	defer SetRoot(original)

	var buf bytes.Buffer
	SetRoot(&wrap{inner: slog.New(NewTerminalHandler(&buf))})
	Root().Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected swapped root logger to receive the log line, got %q", buf.String())
	}
}
