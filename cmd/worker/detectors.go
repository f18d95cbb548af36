package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"ppe-safety-worker/internal/config"
	"ppe-safety-worker/internal/models"
	"ppe-safety-worker/internal/services/capture"
	"ppe-safety-worker/internal/services/detection"
	"ppe-safety-worker/internal/services/detection/dnn"
)

// buildDetector returns nil for the "none" backend. The closer releases the
// connection or network.
func buildDetector(name string, dc config.DetectorConfig, cfg *config.Config, encoder detection.FrameEncoder) (capture.Detector, io.Closer, error) {
	switch dc.Backend {
	case config.DetectorNone:
		log.Info().Str("detector", name).Msg("Detector disabled")
		return nil, nil, nil

	case config.DetectorDNN:
		d, err := dnn.NewDetector(dnn.Options{
			Name:          name,
			ModelPath:     dc.ModelPath,
			ConfigPath:    dc.ModelCfg,
			Labels:        dc.Labels,
			InputSize:     dc.InputSize,
			MinConfidence: float32(cfg.ConfidenceThreshold) / 2,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil

	case config.DetectorGRPC:
		d := detection.NewGRPCDetector(detection.GRPCOptions{
			Name:     name,
			Endpoint: dc.GRPCURL,
			Method:   dc.GRPCMethod,
			Timeout:  cfg.DetectorTimeout,
			Labels:   dc.Labels,
		}, encoder)
		if err := d.Connect(); err != nil {
			return nil, nil, err
		}
		return d, d, nil
	}

	return nil, nil, fmt.Errorf("%w: unknown %s detector backend %q", models.ErrConfiguration, name, dc.Backend)
}
