package logging

import (
	"fmt"
	"io"
	"strconv"

	"github.com/logdyhq/logdy-core/logdy"
	"github.com/rs/zerolog/log"

	"ppe-safety-worker/internal/config"
)

type logdyWriter struct {
	logger logdy.Logdy
}

func (w *logdyWriter) Write(p []byte) (n int, err error) {
	w.logger.LogString(string(p))
	return len(p), nil
}

// StartLogdy starts the embedded Logdy web UI and returns a writer to tee
// zerolog output into it. Returns a nil writer when Logdy is disabled.
func StartLogdy(cfg *config.Config) (io.Writer, string, error) {
	if !cfg.LogdyEnabled {
		return nil, "", nil
	}
	if cfg.LogdyPort <= 0 || cfg.LogdyPort == cfg.Port {
		return nil, "", fmt.Errorf("logdy port %d conflicts with api port %d", cfg.LogdyPort, cfg.Port)
	}

	portStr := strconv.Itoa(cfg.LogdyPort)
	ld := logdy.InitializeLogdy(logdy.Config{
		ServerIp:   cfg.LogdyHost,
		ServerPort: portStr,
	}, nil)

	url := fmt.Sprintf("http://%s:%s", cfg.LogdyHost, portStr)
	log.Info().Str("url", url).Msg("Logdy UI available")
	return &logdyWriter{logger: ld}, url, nil
}
