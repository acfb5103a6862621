// Package logging constructs the single zerolog.Logger that every other
// package receives explicitly through its constructor, grounded on
// allaspectsdev-tokenman/internal/cache's use of zerolog, but threaded as
// an explicit value rather than the package-level github.com/rs/zerolog/log
// global that tokenman itself uses — this expansion's redesign note
// (§9) replaces module-level global state with explicit application
// objects wherever the teacher corpus shows both styles.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"taskmemo.dev/taskmemo/pkg/config"
)

// New builds a zerolog.Logger from a LoggingConfig. An empty or
// unrecognized level falls back to "info". An empty path logs to
// stderr.
func New(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if cfg.Path != "" {
		f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			out = f
		}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
