// Package logging holds the process-wide zerolog logger for idxinspect and
// the structured completion events emitted by long-running steps.
package logging

import (
	"os"
	"sync/atomic"

	"github.com/eunmann/idxgo/internal/logctx"
	"github.com/rs/zerolog"
)

var (
	logger     *zerolog.Logger
	prettyMode atomic.Bool
)

func init() {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	logger = &l
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Init configures the global logger. debug lowers the level to Debug;
// human switches to console output and adds human-readable companions
// ("_h" fields) to completion events.
func Init(debug bool, human bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	prettyMode.Store(human)

	l := logctx.NewConfiguredLogger(debug, human)
	logger = &l
	logctx.SetDefaultLogger(l)
}

// L returns the base logger.
func L() *zerolog.Logger {
	return logger
}

// WithPhase returns a logger with the phase field set.
func WithPhase(phase string) zerolog.Logger {
	return logger.With().Str("phase", phase).Logger()
}

// SetLogger overrides the global logger (useful for testing).
func SetLogger(l zerolog.Logger) {
	logger = &l
}

// IsPrettyMode reports whether human-readable companion fields are enabled.
func IsPrettyMode() bool {
	return prettyMode.Load()
}

// SetPrettyMode toggles human-readable companion fields.
func SetPrettyMode(on bool) {
	prettyMode.Store(on)
}
