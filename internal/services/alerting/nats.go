package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"ppe-safety-worker/internal/config"
	"ppe-safety-worker/internal/models"
)

// NATSDeliverer publishes events as JSON on <subject>.<kind>
type NATSDeliverer struct {
	conn    *nats.Conn
	subject string
}

func NewNATSDeliverer(cfg *config.Config) (*NATSDeliverer, error) {
	opts := []nats.Option{
		nats.Name(cfg.WorkerID),
		nats.Timeout(cfg.NatsConnectTimeout),
		nats.ReconnectWait(cfg.NatsReconnectWait),
		nats.MaxReconnects(cfg.NatsMaxReconnects),
		nats.DrainTimeout(cfg.NatsDrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.NatsURL, err)
	}

	log.Info().Str("url", cfg.NatsURL).Str("subject", cfg.AlertsSubject).Msg("NATS connection established")

	return &NATSDeliverer{conn: conn, subject: cfg.AlertsSubject}, nil
}

func (n *NATSDeliverer) Name() string { return "nats" }

// Subject returns the subject an event kind is published on
func (n *NATSDeliverer) Subject(kind models.EventKind) string {
	return n.subject + "." + strings.ToLower(string(kind))
}

func (n *NATSDeliverer) Deliver(ctx context.Context, event models.AlertEvent) error {
	if !n.conn.IsConnected() {
		return fmt.Errorf("nats not connected")
	}

	payload, err := json.Marshal(NewWebhookPayload(event))
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.Subject(event.Kind), payload); err != nil {
		return err
	}
	return n.conn.FlushWithContext(ctx)
}

func (n *NATSDeliverer) Shutdown(ctx context.Context) error {
	if n.conn == nil {
		return nil
	}
	// Try graceful drain, fallback to immediate close
	if err := n.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("Failed to drain NATS connection gracefully, closing immediately")
		n.conn.Close()
	}
	return nil
}
