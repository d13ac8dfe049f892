package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns the service logger: JSON to stdout in production, pretty
// console output everywhere else.
func New(env string) zerolog.Logger {
	l := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "finesync").
		Logger()

	if env != "production" {
		l = l.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return l
}
