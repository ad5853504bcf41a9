package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns the service-wide logger. Dev gets the console writer,
// everything else gets JSON lines on stdout.
func New(env, service string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
	if env == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Str("service", service).Logger()
	}
	return logger
}
