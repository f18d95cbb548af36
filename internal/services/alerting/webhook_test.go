package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ppe-safety-worker/internal/models"
)

func TestWebhookDeliverPostsPayload(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhookDeliverer("", srv.URL, time.Second)
	event := models.AlertEvent{
		ID:        "evt-1",
		Kind:      models.EventAlert,
		Status:    models.OverallUnsafe,
		Message:   "ALERT: Missing safety gear - helmet",
		Missing:   []string{"helmet"},
		Summary:   models.FrameSummary{PersonCount: 1, UnsafeCount: 1},
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := w.Deliver(context.Background(), event); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got.Type != "safety_violation" || got.Status != "UNSAFE" || got.Message != event.Message {
		t.Errorf("unexpected payload %+v", got)
	}
	if got.Timestamp != "2024-05-01T12:00:00Z" {
		t.Errorf("timestamp = %s", got.Timestamp)
	}
}

func TestWebhookDisabledURLIsSuccess(t *testing.T) {
	w := NewWebhookDeliverer("", "", time.Second)
	err := w.Deliver(context.Background(), models.AlertEvent{Kind: models.EventNotification})
	if err != nil {
		t.Fatalf("disabled webhook should not fail: %v", err)
	}
}

func TestWebhookNon2xxIsDeliveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhookDeliverer(srv.URL, "", time.Second)
	err := w.Deliver(context.Background(), models.AlertEvent{Kind: models.EventNotification})
	if !errors.Is(err, models.ErrWebhookDelivery) {
		t.Fatalf("expected ErrWebhookDelivery, got %v", err)
	}
}

func TestWebhookTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	w := NewWebhookDeliverer(srv.URL, "", 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := w.Deliver(ctx, models.AlertEvent{Kind: models.EventNotification})
	if !errors.Is(err, models.ErrWebhookDelivery) {
		t.Fatalf("expected ErrWebhookDelivery, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("delivery ignored the context deadline")
	}
}
