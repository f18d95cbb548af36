package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"ppe-safety-worker/internal/api"
	"ppe-safety-worker/internal/config"
	"ppe-safety-worker/internal/logging"
	"ppe-safety-worker/internal/metrics"
	"ppe-safety-worker/internal/models"
	"ppe-safety-worker/internal/repository/sqlite"
	"ppe-safety-worker/internal/services/alerting"
	"ppe-safety-worker/internal/services/annotate"
	"ppe-safety-worker/internal/services/capture"
	"ppe-safety-worker/internal/services/publisher/mjpeg"
	"ppe-safety-worker/internal/services/state"
	"ppe-safety-worker/internal/services/streamcapture"
)

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// run wires every component, serves HTTP and blocks until ctx is cancelled
func run(ctx context.Context, cfg *config.Config, autostart bool) error {
	log.Info().
		Str("worker_id", cfg.WorkerID).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("camera", cfg.Camera.String()).
		Str("ppe_detector", cfg.PPEDetector.Backend).
		Str("person_detector", cfg.PersonDetector.Backend).
		Strs("alert_transports", cfg.AlertTransports).
		Msg("Starting PPE safety worker")

	m := metrics.New()
	store := state.NewStore()
	renderer := annotate.NewRenderer(cfg.JPEGQuality)

	placeholder, err := renderer.Placeholder(cfg.CaptureWidth, cfg.CaptureHeight, "Waiting for camera")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to render placeholder frame")
	}
	frames := mjpeg.NewPublisher(placeholder)
	m.RegisterGaugeFunc("ppe_stream_subscribers", "Open video feed clients", func() float64 {
		return float64(frames.Subscribers())
	})

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Warn().Err(err).Msg("Error during cleanup")
			}
		}
	}()

	// Alert history
	var history *sqlite.AlertRepository
	if cfg.AlertHistoryDB != "" {
		db, err := sqlite.New(cfg.AlertHistoryDB)
		if err != nil {
			return fmt.Errorf("%w: alert history: %v", models.ErrConfiguration, err)
		}
		closers = append(closers, db)
		history = sqlite.NewAlertRepository(db)
		log.Info().Str("path", cfg.AlertHistoryDB).Msg("Alert history enabled")
	}

	// Alert transports
	deliverers, transports := buildDeliverers(cfg)

	dispatchOpts := alerting.Options{
		Cooldown:        cfg.AlertsCooldown,
		Workers:         cfg.AlertsWorkers,
		QueueSize:       cfg.AlertsQueueSize,
		DeliveryTimeout: cfg.DeliveryTimeout,
		Observer:        m,
	}
	if history != nil {
		dispatchOpts.History = history
	}
	dispatcher := alerting.NewDispatcher(dispatchOpts, deliverers...)

	// Detectors
	ppe, ppeCloser, err := buildDetector("ppe", cfg.PPEDetector, cfg, renderer)
	if err != nil {
		return err
	}
	if ppe == nil {
		return fmt.Errorf("%w: a PPE detector is required", models.ErrConfiguration)
	}
	closers = append(closers, ppeCloser)

	person, personCloser, err := buildDetector("person", cfg.PersonDetector, cfg, renderer)
	if err != nil {
		return err
	}
	if personCloser != nil {
		closers = append(closers, personCloser)
	} else {
		log.Warn().Msg("No person detector configured, every frame will report NO_PERSON")
	}

	// Capture loop
	cameras := streamcapture.NewService(cfg)
	opener := capture.OpenerFunc(func(ctx context.Context) (capture.Source, error) {
		cam, err := cameras.Open(ctx)
		if err != nil {
			return nil, err
		}
		return cam, nil
	})

	captureLogger := logging.NewServiceLogger(cfg, "capture")
	controller, err := capture.NewController(capture.Options{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		HelmetLabel:         cfg.HelmetClassName,
		JacketLabel:         cfg.JacketClassName,
		PersonLabel:         cfg.PersonClassName,
		MaxFrameDimension:   cfg.MaxFrameDimension,
		ResizeWidth:         cfg.ResizeWidth,
		ResizeHeight:        cfg.ResizeHeight,
		StartWaitTimeout:    cfg.StartWaitTimeout,
		DetectorTimeout:     cfg.DetectorTimeout,
		StatsInterval:       cfg.StatsInterval,
	}, capture.Deps{
		Opener:  opener,
		PPE:     ppe,
		Person:  person,
		Resizer: streamcapture.Resizer{},
		Render:  renderer,
		Frames:  frames,
		State:   store,
		Alerts:  dispatcher,
		Metrics: m,
		Logger:  &captureLogger,
	})
	if err != nil {
		return err
	}

	// Overall status gauge follows the store
	updates, unsubscribe := store.Subscribe()
	go func() {
		for s := range updates {
			m.StatusChanged(s.OverallStatus)
		}
	}()

	// HTTP
	apiDeps := api.Deps{
		Session: controller,
		State:   store,
		Frames:  frames,
		Metrics: m.Handler(),
	}
	if history != nil {
		apiDeps.Alerts = history
	}
	server := api.NewServer(cfg, apiDeps)
	if err := server.Setup(); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	if autostart {
		if _, err := controller.Start(); err != nil {
			log.Error().Err(err).Msg("Autostart failed")
		}
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("API server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// stopping capture first ends open video feeds so the server can drain
	if err := controller.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Capture worker did not release the camera in time")
	}
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Alert dispatcher did not drain in time")
	}
	for _, t := range transports {
		if err := t.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Error closing alert transport")
		}
	}
	unsubscribe()

	log.Info().Msg("Shutdown complete")
	return nil
}

// buildDeliverers connects every configured transport. The shutdowners are
// returned separately so connections are drained after the dispatcher.
func buildDeliverers(cfg *config.Config) ([]models.Deliverer, []shutdowner) {
	var deliverers []models.Deliverer
	var transports []shutdowner

	if cfg.HasTransport(config.TransportWebhook) {
		deliverers = append(deliverers, alerting.NewWebhookDeliverer(cfg.NotificationWebhookURL, cfg.AlertWebhookURL, cfg.DeliveryTimeout))
	}

	if cfg.HasTransport(config.TransportNATS) {
		n, err := alerting.NewNATSDeliverer(cfg)
		if err != nil {
			// the broker may come up later; alerts keep flowing through the other transports
			log.Error().Err(err).Msg("NATS alert transport unavailable")
		} else {
			deliverers = append(deliverers, n)
			transports = append(transports, n)
		}
	}

	if cfg.HasTransport(config.TransportMQTT) {
		mq, err := alerting.NewMQTTDeliverer(cfg)
		if err != nil {
			log.Error().Err(err).Msg("MQTT alert transport unavailable")
		} else {
			deliverers = append(deliverers, mq)
			transports = append(transports, mq)
		}
	}

	return deliverers, transports
}
