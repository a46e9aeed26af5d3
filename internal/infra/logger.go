package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging contract handed to every component.
type Logger = zerolog.Logger

// NewLogger builds the process logger. Development gets a console writer at
// debug level; "test" discards everything. LOG_LEVEL overrides the level.
func NewLogger(appEnv string) zerolog.Logger {
	return newLogger(appEnv, os.Getenv("LOG_LEVEL"), os.Stdout)
}

func newLogger(appEnv, levelName string, out io.Writer) zerolog.Logger {
	if appEnv == "test" {
		return zerolog.New(io.Discard)
	}

	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelName))); err == nil && levelName != "" {
		level = parsed
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "trendtide").
		Logger()
}
