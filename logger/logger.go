package logger

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/vantage-ai/orchestrator/config"
)

// New returns a configured zerolog.Logger. Development mode logs a
// human-readable console stream at debug level; anything else logs
// structured JSON at info level.
func New(cfg *config.Config) zerolog.Logger {
	var out zerolog.ConsoleWriter
	lvl := zerolog.InfoLevel
	if cfg.IsDevelopment() {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
		lvl = zerolog.DebugLevel
		zerolog.SetGlobalLevel(lvl)
		return zerolog.New(out).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
