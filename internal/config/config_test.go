package config

import (
	"errors"
	"testing"
	"time"

	"ppe-safety-worker/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "")
	t.Setenv("ALERTS_COOLDOWN", "")

	cfg := Load()
	if cfg.ConfidenceThreshold != 0.5 {
		t.Errorf("threshold = %v, want 0.5", cfg.ConfidenceThreshold)
	}
	if cfg.AlertsCooldown != 10*time.Second {
		t.Errorf("cooldown = %v, want 10s", cfg.AlertsCooldown)
	}
	if cfg.StartWaitTimeout != 2*time.Second {
		t.Errorf("start wait = %v, want 2s", cfg.StartWaitTimeout)
	}
	if cfg.MaxFrameDimension != 1000 || cfg.ResizeWidth != 640 || cfg.ResizeHeight != 480 {
		t.Errorf("unexpected resize defaults: %d %dx%d", cfg.MaxFrameDimension, cfg.ResizeWidth, cfg.ResizeHeight)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "0.7")
	t.Setenv("ALERT_TRANSPORTS", "webhook, NATS ,")
	t.Setenv("PI_IP", "10.0.0.5")
	t.Setenv("PI_PROTOCOL", "http")
	t.Setenv("PI_PORT", "9000")

	cfg := Load()
	if cfg.ConfidenceThreshold != 0.7 {
		t.Errorf("threshold = %v, want 0.7", cfg.ConfidenceThreshold)
	}
	if !cfg.HasTransport(TransportNATS) || !cfg.HasTransport(TransportWebhook) || cfg.HasTransport(TransportMQTT) {
		t.Errorf("transports = %v", cfg.AlertTransports)
	}
	target, err := cfg.Camera.Target()
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	if target != "http://10.0.0.5:9000" {
		t.Errorf("target = %v", target)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(c *Config){
		"threshold":      func(c *Config) { c.ConfidenceThreshold = 1.5 },
		"port":           func(c *Config) { c.Port = 0 },
		"ppe backend":    func(c *Config) { c.PPEDetector.Backend = "none" },
		"person backend": func(c *Config) { c.PersonDetector.Backend = "yolo" },
		"transport":      func(c *Config) { c.AlertTransports = []string{"smtp"} },
		"protocol":       func(c *Config) { c.Camera = models.CameraSource{PiIP: "1.2.3.4", Protocol: "ftp"} },
		"workers":        func(c *Config) { c.AlertsWorkers = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Load()
			mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, models.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}
