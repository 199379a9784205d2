package main

import (
	"log/slog"
	"net/netip"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// newLogger logs to stderr through tint, in color on a terminal.
func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:       level,
		TimeFormat:  "15:04:05.000",
		NoColor:     !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: elideAttr(os.Getenv("JOURNAL_STREAM") != ""),
	}))
}

// elideAttr drops attributes that carry no information: zero values, loopback
// client addresses and, under journald which stamps lines itself, the time.
func elideAttr(journald bool) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey && len(groups) == 0 {
			if journald {
				return slog.Attr{}
			}
			return a
		}
		if a.Key == "ip" {
			if ip, err := netip.ParseAddr(a.Value.String()); err == nil && ip.IsLoopback() {
				return slog.Attr{}
			}
		}
		if isZeroValue(a.Value) {
			return slog.Attr{}
		}
		return a
	}
}

func isZeroValue(v slog.Value) bool {
	switch v.Kind() {
	case slog.KindString:
		return v.String() == ""
	case slog.KindBool:
		return !v.Bool()
	case slog.KindInt64:
		return v.Int64() == 0
	case slog.KindDuration:
		return v.Duration() == time.Duration(0)
	case slog.KindAny:
		return v.Any() == nil
	default:
		return false
	}
}
