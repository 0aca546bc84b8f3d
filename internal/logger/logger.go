package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	log  *zerolog.Logger
)

// Get returns the singleton logger instance, initializing it on first call.
func Get() *zerolog.Logger {
	once.Do(func() {
		log = newLogger()
	})
	return log
}

// newLogger picks console or JSON output based on the ENV environment variable.
func newLogger() *zerolog.Logger {
	level := zerolog.InfoLevel
	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(levelStr)); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)

	env := os.Getenv("ENV")
	if env == "" || env == "dev" || env == "development" {
		out := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02 15:04:05",
		}
		zl := zerolog.New(out).With().Timestamp().Logger()
		return &zl
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
	return &zl
}
