// Package logging owns the process-wide slog logger. Everything logs through
// L() so the format and level chosen at startup apply to every component.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

type Options struct {
	Level string
	JSON  bool
	// Output defaults to stderr. The stdout sink writes records to stdout, so
	// logs never share it.
	Output io.Writer
}

var def atomic.Value

func init() {
	cfg := &slog.HandlerOptions{Level: slog.LevelInfo}
	h := slog.NewTextHandler(os.Stderr, cfg)
	def.Store(slog.New(h))
}

func Configure(opts Options) {
	def.Store(New(opts))
}

// New builds a logger without installing it.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	cfg := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(out, cfg)
	} else {
		h = slog.NewTextHandler(out, cfg)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
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

func L() *slog.Logger {
	l, _ := def.Load().(*slog.Logger)
	return l
}

// Component returns L() tagged with the component name.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// FromEnv reads RELAY_LOG_LEVEL and RELAY_LOG_JSON. Values that are unset
// keep the ones in base.
func FromEnv(base Options) Options {
	if lvl, ok := os.LookupEnv("RELAY_LOG_LEVEL"); ok {
		base.Level = lvl
	}
	if b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("RELAY_LOG_JSON"))); err == nil {
		base.JSON = b
	}
	return base
}

func InitFromEnv() {
	Configure(FromEnv(Options{}))
}
