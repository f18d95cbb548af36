package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ppe-safety-worker/internal/models"
)

// WebhookPayload is the JSON body posted to webhook endpoints
type WebhookPayload struct {
	Type        string   `json:"type"`
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	Timestamp   string   `json:"timestamp"`
	EventID     string   `json:"event_id"`
	Missing     []string `json:"missing,omitempty"`
	PersonCount int      `json:"person_count"`
	SafeCount   int      `json:"safe_count"`
	UnsafeCount int      `json:"unsafe_count"`
}

// NewWebhookPayload maps an event to its webhook body
func NewWebhookPayload(event models.AlertEvent) WebhookPayload {
	return WebhookPayload{
		Type:        event.Kind.PayloadType(),
		Status:      string(event.Status),
		Message:     event.Message,
		Timestamp:   event.Timestamp.Format(time.RFC3339),
		EventID:     event.ID,
		Missing:     event.Missing,
		PersonCount: event.Summary.PersonCount,
		SafeCount:   event.Summary.SafeCount,
		UnsafeCount: event.Summary.UnsafeCount,
	}
}

// WebhookDeliverer posts notifications and alerts to separate endpoints.
// An empty URL disables delivery for that kind.
type WebhookDeliverer struct {
	notificationURL string
	alertURL        string
	client          *http.Client
}

func NewWebhookDeliverer(notificationURL, alertURL string, timeout time.Duration) *WebhookDeliverer {
	return &WebhookDeliverer{
		notificationURL: notificationURL,
		alertURL:        alertURL,
		client:          &http.Client{Timeout: timeout},
	}
}

func (w *WebhookDeliverer) Name() string { return "webhook" }

func (w *WebhookDeliverer) Deliver(ctx context.Context, event models.AlertEvent) error {
	url := w.notificationURL
	if event.Kind == models.EventAlert {
		url = w.alertURL
	}
	if url == "" {
		return nil
	}

	body, err := json.Marshal(NewWebhookPayload(event))
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", models.ErrWebhookDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrWebhookDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrWebhookDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned status %d", models.ErrWebhookDelivery, url, resp.StatusCode)
	}
	return nil
}
