package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ppe-safety-worker/internal/models"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func assertContains(t *testing.T, body string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(body, w) {
			t.Errorf("metrics output missing %q", w)
		}
	}
}

func TestFrameAndSessionCounters(t *testing.T) {
	m := New()

	m.SessionChanged(models.SessionRunning)
	m.FrameProcessed(40 * time.Millisecond)
	m.FrameProcessed(60 * time.Millisecond)
	m.FrameSkipped("ppe_detector")

	if m.FramesProcessed.Load() != 2 {
		t.Errorf("frames processed = %d", m.FramesProcessed.Load())
	}
	if m.ProcessLatencyMs.Load() != 60 {
		t.Errorf("latency = %d, want last frame", m.ProcessLatencyMs.Load())
	}
	if m.CaptureRunning.Load() != 1 {
		t.Error("capture should be marked running")
	}
	assertContains(t, scrape(t, m),
		"ppe_frames_processed_total 2",
		`ppe_frames_skipped_total{reason="ppe_detector"} 1`,
		`ppe_session_transitions_total{state="RUNNING"} 1`,
		"ppe_frame_duration_seconds_count 2",
	)

	m.SessionChanged(models.SessionIdle)
	if m.CaptureRunning.Load() != 0 {
		t.Error("capture should be marked stopped")
	}
}

func TestDetectorErrorKinds(t *testing.T) {
	m := New()
	m.DetectorError("ppe", fmt.Errorf("%w: bad bbox", models.ErrInvalidDetectionFormat))
	m.DetectorError("ppe", errors.New("deadline exceeded"))

	assertContains(t, scrape(t, m),
		`ppe_detector_errors_total{detector="ppe",kind="invalid_format"} 1`,
		`ppe_detector_errors_total{detector="ppe",kind="failure"} 1`,
	)
}

func TestAlertObserver(t *testing.T) {
	m := New()
	m.AlertQueued(models.EventAlert)
	m.AlertDropped(models.EventAlert)
	m.AlertDelivered(models.EventAlert, "webhook", nil)
	m.AlertDelivered(models.EventAlert, "nats", errors.New("no servers"))

	assertContains(t, scrape(t, m),
		`ppe_alerts_queued_total{kind="ALERT"} 1`,
		`ppe_alerts_dropped_total{kind="ALERT"} 1`,
		`ppe_alert_deliveries_total{kind="ALERT",result="success",transport="webhook"} 1`,
		`ppe_alert_deliveries_total{kind="ALERT",result="failure",transport="nats"} 1`,
	)
}

func TestStatusGaugeIsOneHot(t *testing.T) {
	m := New()
	m.StatusChanged(models.OverallUnsafe)

	assertContains(t, scrape(t, m),
		`ppe_overall_status{status="UNSAFE"} 1`,
		`ppe_overall_status{status="SAFE"} 0`,
	)
}

func TestRegisterGaugeFunc(t *testing.T) {
	m := New()
	m.RegisterGaugeFunc("ppe_stream_subscribers", "Open MJPEG streams", func() float64 { return 3 })

	assertContains(t, scrape(t, m), "ppe_stream_subscribers 3")
}
