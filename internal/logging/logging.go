// Package logging wires up the process-wide structured logger. Every
// component takes a *zerolog.Logger rather than reaching for a package-level
// global, so tests can inject a silent or buffered logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w (os.Stdout in production) at the
// given level, with RFC3339 timestamps and a "component" field preset.
func New(w io.Writer, level string, component string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	l := parseLevel(level)
	return zerolog.New(w).Level(l).With().Timestamp().Str("component", component).Logger()
}

// NewConsole builds a human-readable console logger, used by CLI tools where
// stdout is a terminal rather than a log aggregator.
func NewConsole(level string, component string) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return New(cw, level, component)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}
