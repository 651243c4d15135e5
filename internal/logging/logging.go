// Package logging builds the process logger and carries it through context.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// New returns a zerolog logger. Development environments get a console
// writer, everything else writes JSON lines to stdout.
func New(env, level string) zerolog.Logger {
	return NewWithWriter(env, level, os.Stdout)
}

func NewWithWriter(env, level string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if env == "development" || env == "develop" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	}
	return zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel falls back to info for unknown or empty names.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Context attaches logger to a background context for long-running workers.
func Context(logger zerolog.Logger) context.Context {
	return logger.WithContext(context.Background())
}

// MaskKey keeps only a short prefix of a stream key for log output.
func MaskKey(key string) string {
	const keep = 6
	if len(key) <= keep {
		return strings.Repeat("*", len(key))
	}
	return key[:keep] + "…"
}
