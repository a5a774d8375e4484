// Package observability carries the engine's ambient logging setup plus the
// optional metrics collector, HTTP-callback observer and live-execution
// websocket observer.
//
// Grounded on the teacher's internal/infrastructure/logger/logger.go
// (zerolog console writer, level parsing).
package observability

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the engine's base logger: pretty console output when pretty is
// true (development), structured JSON otherwise (production), matching the
// teacher's two-mode logger construction.
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var out zerolog.Logger
	if pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		out = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return out.Level(lvl)
}
