package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "debug", JSON: true, Output: &buf})
	l.Debug("hello", "topic", "people")
	if !strings.Contains(buf.String(), `"topic":"people"`) {
		t.Fatalf("expected json output, got %q", buf.String())
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("RELAY_LOG_LEVEL", "error")
	t.Setenv("RELAY_LOG_JSON", "true")
	o := FromEnv(Options{Level: "info"})
	if o.Level != "error" || !o.JSON {
		t.Fatalf("unexpected options %+v", o)
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	prev := L()
	defer def.Store(prev)
	def.Store(New(Options{Output: &buf}))
	Component("loop").Info("tick")
	if !strings.Contains(buf.String(), "component=loop") {
		t.Fatalf("missing component attr: %q", buf.String())
	}
}
