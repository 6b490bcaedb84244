// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// DebugEnvVar forces debug logging when set to any non-empty value.
const DebugEnvVar = "EMBEDBRIDGE_DEBUG"

// Logger is the process-wide logger. It is usable before InitLogger is
// called and logs at info level to stderr until then.
var Logger = newLogger(os.Stderr, slog.LevelInfo)

// InitLogger initializes the global logger with the given level name
// ("debug", "info", "warn", "error"; empty means info).
// Set EMBEDBRIDGE_DEBUG=1 to enable debug logging regardless of level.
// Output goes to stderr; stdout belongs to scripts.
func InitLogger(level string) {
	InitLoggerTo(os.Stderr, level)
}

// InitLoggerTo is InitLogger with an explicit destination.
func InitLoggerTo(w io.Writer, level string) {
	lvl := ParseLevel(level)
	if os.Getenv(DebugEnvVar) != "" {
		lvl = slog.LevelDebug
	}
	Logger = newLogger(w, lvl)
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		// Remove timestamp for cleaner CLI output
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(handler)
}

// Debug logs a debug message (only shown when debug logging is enabled)
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}
