// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// level backs every handler built by Init so SetLevel takes effect without
// rebuilding the logger.
var level = new(slog.LevelVar)

// Init builds the default logger writing to stdout.
// levelName: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "json")
func Init(levelName, format string) *slog.Logger {
	return InitWriter(os.Stdout, levelName, format)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, levelName, format string) *slog.Logger {
	level.Set(ParseLevel(levelName))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the level of the logger built by Init.
func SetLevel(levelName string) {
	level.Set(ParseLevel(levelName))
}

// Level returns the active level.
func Level() slog.Level {
	return level.Level()
}

// ParseLevel maps a level name to slog.Level, defaulting to Info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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
