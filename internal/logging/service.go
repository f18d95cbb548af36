package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ppe-safety-worker/internal/config"
)

// Setup configures the global zerolog logger: console output on stderr,
// an optional extra sink, and the level from config.
func Setup(level string, extra io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if extra != nil {
		out = zerolog.MultiLevelWriter(out, extra)
	}
	log.Logger = log.Output(out)

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		log.Warn().Str("level", level).Msg("Invalid log level, using info")
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

func NewServiceLogger(cfg *config.Config, service string) zerolog.Logger {
	return log.With().Str("worker_id", cfg.WorkerID).Str("service", service).Logger()
}

// WithSession tags log lines with the capture session number
func WithSession(base zerolog.Logger, session uint64) zerolog.Logger {
	return base.With().Uint64("session", session).Logger()
}
