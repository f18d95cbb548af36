package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"ppe-safety-worker/internal/config"
	"ppe-safety-worker/internal/models"
)

// MQTTDeliverer publishes events to <topic>/<kind> on an MQTT broker
type MQTTDeliverer struct {
	client    mqtt.Client
	topic     string
	qos       byte
	connected atomic.Bool
}

func NewMQTTDeliverer(cfg *config.Config) (*MQTTDeliverer, error) {
	m := &MQTTDeliverer{topic: cfg.MQTTTopic, qos: byte(cfg.MQTTQoS)}

	broker := cfg.MQTTBroker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		m.connected.Store(true)
		log.Info().Str("broker", broker).Msg("MQTT connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.connected.Store(false)
		log.Warn().Err(err).Str("broker", broker).Msg("MQTT connection lost, will auto-reconnect")
	}

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	m.connected.Store(true)

	return m, nil
}

func (m *MQTTDeliverer) Name() string { return "mqtt" }

func (m *MQTTDeliverer) Deliver(ctx context.Context, event models.AlertEvent) error {
	if !m.connected.Load() {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(NewWebhookPayload(event))
	if err != nil {
		return err
	}

	topic := m.topic + "/" + strings.ToLower(string(event.Kind))
	token := m.client.Publish(topic, m.qos, false, payload)

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish: %w", ctx.Err())
	}
}

func (m *MQTTDeliverer) Shutdown(context.Context) error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		log.Info().Msg("MQTT disconnected")
	}
	m.connected.Store(false)
	return nil
}
