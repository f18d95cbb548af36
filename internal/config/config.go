package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"ppe-safety-worker/internal/models"
)

// Detector backends
const (
	DetectorGRPC = "grpc"
	DetectorDNN  = "dnn"
	DetectorNone = "none"
)

// Alert transports
const (
	TransportWebhook = "webhook"
	TransportNATS    = "nats"
	TransportMQTT    = "mqtt"
)

// DetectorConfig configures one detector backend
type DetectorConfig struct {
	Backend    string
	GRPCURL    string
	GRPCMethod string
	ModelPath  string
	ModelCfg   string
	Labels     []string
	InputSize  int
}

type Config struct {
	// Application
	Version     string
	Environment string
	WorkerID    string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Camera
	Camera        models.CameraSource
	CaptureWidth  int
	CaptureHeight int

	// Frame downscaling
	MaxFrameDimension int
	ResizeWidth       int
	ResizeHeight      int

	// Compliance
	ConfidenceThreshold float64
	HelmetClassName     string
	JacketClassName     string
	PersonClassName     string

	// Detectors
	PPEDetector     DetectorConfig
	PersonDetector  DetectorConfig
	DetectorTimeout time.Duration

	// Capture loop
	StartWaitTimeout time.Duration
	JPEGQuality      int
	StatsInterval    int // log a frame counter every N frames

	// Alerting
	AlertsCooldown         time.Duration
	AlertsWorkers          int
	AlertsQueueSize        int
	DeliveryTimeout        time.Duration
	AlertTransports        []string
	NotificationWebhookURL string
	AlertWebhookURL        string
	AlertHistoryDB         string
	AlertHistoryLimit      int

	// NATS (for alerts)
	// Default: nats://localhost:4222 (works with Docker Compose setup)
	// Docker: Use nats://nats:4222 if running worker in Docker
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	NatsDrainTimeout   time.Duration
	AlertsSubject      string

	// MQTT (for alerts)
	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string
	MQTTQoS      int

	// Status websocket
	StatusPushInterval time.Duration

	// Swagger Configuration
	SwaggerHost string
	SwaggerPort int

	// Graceful Shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		WorkerID:    getEnv("WORKER_ID", "ppe-worker-1"),
		Port:        getEnvInt("PORT", 5000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Logdy
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		// Camera
		Camera: models.CameraSource{
			Device:   getEnv("CAMERA_SOURCE", "0"),
			PiIP:     getEnv("PI_IP", ""),
			PiPort:   getEnv("PI_PORT", "8554"),
			PiPath:   getEnv("PI_PATH", "cam"),
			Protocol: models.StreamProtocol(getEnv("PI_PROTOCOL", string(models.ProtocolRTSP))),
		},
		CaptureWidth:  getEnvInt("CAPTURE_WIDTH", 640),
		CaptureHeight: getEnvInt("CAPTURE_HEIGHT", 480),

		// Frame downscaling
		MaxFrameDimension: getEnvInt("MAX_FRAME_DIMENSION", 1000),
		ResizeWidth:       getEnvInt("RESIZE_WIDTH", 640),
		ResizeHeight:      getEnvInt("RESIZE_HEIGHT", 480),

		// Compliance
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.5),
		HelmetClassName:     getEnv("HELMET_CLASS_NAME", "safety-helmet"),
		JacketClassName:     getEnv("JACKET_CLASS_NAME", "reflective-jacket"),
		PersonClassName:     getEnv("PERSON_CLASS_NAME", "person"),

		// Detectors
		PPEDetector: DetectorConfig{
			Backend:    strings.ToLower(getEnv("PPE_DETECTOR", DetectorGRPC)),
			GRPCURL:    getEnv("PPE_GRPC_URL", "localhost:50051"),
			GRPCMethod: getEnv("PPE_GRPC_METHOD", "/detection.Detector/Detect"),
			ModelPath:  getEnv("PPE_MODEL_PATH", "models/ppe.onnx"),
			ModelCfg:   getEnv("PPE_MODEL_CONFIG", ""),
			Labels:     getEnvList("PPE_LABELS", []string{"background", "safety-helmet", "reflective-jacket"}),
			InputSize:  getEnvInt("PPE_INPUT_SIZE", 640),
		},
		PersonDetector: DetectorConfig{
			Backend:    strings.ToLower(getEnv("PERSON_DETECTOR", DetectorGRPC)),
			GRPCURL:    getEnv("PERSON_GRPC_URL", "localhost:50052"),
			GRPCMethod: getEnv("PERSON_GRPC_METHOD", "/detection.Detector/Detect"),
			ModelPath:  getEnv("PERSON_MODEL_PATH", "models/person.onnx"),
			ModelCfg:   getEnv("PERSON_MODEL_CONFIG", ""),
			Labels:     getEnvList("PERSON_LABELS", []string{"background", "person"}),
			InputSize:  getEnvInt("PERSON_INPUT_SIZE", 640),
		},
		DetectorTimeout: getEnvDuration("DETECTOR_TIMEOUT", 5*time.Second),

		// Capture loop
		StartWaitTimeout: getEnvDuration("START_WAIT_TIMEOUT", 2*time.Second),
		JPEGQuality:      getEnvInt("JPEG_QUALITY", 80),
		StatsInterval:    getEnvInt("STATS_INTERVAL", 30),

		// Alerting
		AlertsCooldown:         getEnvDuration("ALERTS_COOLDOWN", 10*time.Second),
		AlertsWorkers:          getEnvInt("ALERTS_WORKERS", 2),
		AlertsQueueSize:        getEnvInt("ALERTS_QUEUE_SIZE", 32),
		DeliveryTimeout:        getEnvDuration("DELIVERY_TIMEOUT", 5*time.Second),
		AlertTransports:        getEnvList("ALERT_TRANSPORTS", []string{TransportWebhook}),
		NotificationWebhookURL: getEnv("NOTIFICATION_WEBHOOK_URL", ""),
		AlertWebhookURL:        getEnv("ALERT_WEBHOOK_URL", ""),
		AlertHistoryDB:         getEnv("ALERT_HISTORY_DB", "alerts.db"),
		AlertHistoryLimit:      getEnvInt("ALERT_HISTORY_LIMIT", 100),

		// NATS (configured for Docker Compose setup)
		NatsURL:            getNatsURL(),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		NatsDrainTimeout:   getEnvDuration("NATS_DRAIN_TIMEOUT", 5*time.Second),
		AlertsSubject:      getEnv("ALERTS_SUBJECT", "ppe.alerts"),

		// MQTT
		MQTTBroker:   getEnv("MQTT_BROKER", "localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "ppe-safety-worker"),
		MQTTTopic:    getEnv("MQTT_TOPIC", "ppe/alerts"),
		MQTTQoS:      getEnvInt("MQTT_QOS", 1),

		StatusPushInterval: getEnvDuration("STATUS_PUSH_INTERVAL", 0),

		// Swagger Configuration
		SwaggerHost: getEnv("SWAGGER_HOST", "localhost"),
		SwaggerPort: getEnvInt("SWAGGER_PORT", 5000),

		// Graceful Shutdown
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// Validate rejects settings the worker cannot start with
func (c *Config) Validate() error {
	var problems []string

	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT %d out of range", c.Port))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		problems = append(problems, fmt.Sprintf("CONFIDENCE_THRESHOLD %.2f not in [0,1]", c.ConfidenceThreshold))
	}
	if c.MaxFrameDimension <= 0 || c.ResizeWidth <= 0 || c.ResizeHeight <= 0 {
		problems = append(problems, "frame dimensions must be positive")
	}
	if c.HelmetClassName == "" || c.JacketClassName == "" {
		problems = append(problems, "HELMET_CLASS_NAME and JACKET_CLASS_NAME are required")
	}
	if _, err := c.Camera.Target(); err != nil {
		problems = append(problems, err.Error())
	}

	switch c.PPEDetector.Backend {
	case DetectorGRPC, DetectorDNN:
	default:
		problems = append(problems, fmt.Sprintf("PPE_DETECTOR %q must be grpc or dnn", c.PPEDetector.Backend))
	}
	switch c.PersonDetector.Backend {
	case DetectorGRPC, DetectorDNN, DetectorNone:
	default:
		problems = append(problems, fmt.Sprintf("PERSON_DETECTOR %q must be grpc, dnn or none", c.PersonDetector.Backend))
	}

	if c.StartWaitTimeout <= 0 || c.DeliveryTimeout <= 0 || c.DetectorTimeout <= 0 {
		problems = append(problems, "timeouts must be positive")
	}
	if c.AlertsCooldown < 0 {
		problems = append(problems, "ALERTS_COOLDOWN must not be negative")
	}
	if c.AlertsWorkers <= 0 || c.AlertsQueueSize <= 0 {
		problems = append(problems, "ALERTS_WORKERS and ALERTS_QUEUE_SIZE must be positive")
	}
	for _, t := range c.AlertTransports {
		switch t {
		case TransportWebhook, TransportNATS, TransportMQTT:
		default:
			problems = append(problems, fmt.Sprintf("unknown alert transport %q", t))
		}
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		problems = append(problems, "JPEG_QUALITY must be within 1-100")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// HasTransport reports whether an alert transport is enabled
func (c *Config) HasTransport(name string) bool {
	for _, t := range c.AlertTransports {
		if t == name {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList parses a comma separated list, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

// Helper functions for Docker environment detection
func isRunningInDocker() bool {
	if os.Getenv("DOCKER_CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

// getNatsURL returns the appropriate NATS URL based on environment
func getNatsURL() string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}

	// If running in Docker, use service name; otherwise use localhost
	if isRunningInDocker() {
		return "nats://nats:4222"
	}

	return "nats://localhost:4222"
}
