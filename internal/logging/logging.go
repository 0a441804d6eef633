// Package logging sets up the process logger and the MQTT log forwarder.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"
)

// LevelCritical sits above slog.LevelError.
const LevelCritical = slog.Level(12)

// ParseLevel accepts a level name (debug, info, warn, warning, error, crit,
// critical) in any case, or a digit 0-4 in the same order.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "debug":
		return slog.LevelDebug, nil
	case "1", "info":
		return slog.LevelInfo, nil
	case "2", "warn", "warning":
		return slog.LevelWarn, nil
	case "3", "error":
		return slog.LevelError, nil
	case "4", "crit", "critical":
		return LevelCritical, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, error, crit or 0-4)", s)
	}
}

// LevelName returns the short upper-case tag used in published log lines.
func LevelName(l slog.Level) string {
	switch {
	case l >= LevelCritical:
		return "CRIT"
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// Setup builds a text logger on w at the given level, installs it as the
// slog default and routes the standard log package through it.
func Setup(w io.Writer, level *slog.LevelVar, wrap func(slog.Handler) slog.Handler) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(LevelName(l))
				}
			}
			return a
		},
	}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if wrap != nil {
		handler = wrap(handler)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	log.SetFlags(0)
	return logger
}
