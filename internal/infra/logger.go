package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger for one pdfforge binary. LOG_LEVEL wins
// over the environment default (debug in development, info elsewhere).
// Development gets a console writer; every other environment writes JSON.
func NewLogger(cfg *Config, service string) zerolog.Logger {
	return newLogger(os.Stdout, cfg.AppEnv, cfg.LogLevel, service)
}

func newLogger(out io.Writer, appEnv, levelName, service string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}
	if name := strings.ToLower(strings.TrimSpace(levelName)); name != "" {
		if parsed, err := zerolog.ParseLevel(name); err == nil {
			level = parsed
		}
	}

	if appEnv == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if service != "" {
		ctx = ctx.Str("service", service)
	}
	return ctx.Logger()
}
