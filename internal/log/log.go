// Package log configures the process-wide zerolog logger once at startup;
// every component is handed a derived child logger rather than reaching for
// a global, so tests can inject a buffer-backed logger (AMBIENT STACK).
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Init configures zerolog.TimeFieldFormat and returns the root logger.
// Production mode emits plain JSON (for log-shipping); otherwise, when
// stderr is a TTY, a console writer with HH:MM:SS timestamps is used.
func Init(level string, production bool) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if !production && term.IsTerminal(int(os.Stderr.Fd())) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Component derives a child logger tagged with the owning component, the
// convention every C1-C10 constructor follows instead of calling a package
// global (AMBIENT STACK: Logging).
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// Elapsed is a small helper for logging call durations at Debug level.
func Elapsed(start time.Time) time.Duration {
	return time.Since(start)
}
