// Package logging configures mercury-stream's structured logger.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
}

// New builds a zerolog.Logger per Config: JSON to stdout by default, a
// console writer when Format is "pretty" (local development).
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "mercury-stream").
		Logger()
}

// LogPanic records a recovered panic with a full stack trace. Callers use it
// from a deferred recover() so a single consumer's panic never takes down
// the process.
func LogPanic(logger zerolog.Logger, panicValue any, msg string, fields map[string]any) {
	event := logger.Error().
		Interface("panic_value", panicValue).
		Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Guard runs fn and recovers any panic, logging it via LogPanic tagged with
// name instead of letting it take down the process. Intended to wrap the
// body of a long-running consumer goroutine:
// `go logging.Guard(log, "vwap", func() { vwap.Run(ctx, sub) })`.
func Guard(logger zerolog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			LogPanic(logger, r, "consumer panic recovered", map[string]any{"consumer": name})
		}
	}()
	fn()
}
