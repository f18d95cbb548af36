package detection

import (
	"errors"
	"testing"

	"ppe-safety-worker/internal/models"
)

func TestParseDetectionsShapes(t *testing.T) {
	labels := []string{"background", "person", "safety-helmet"}
	items := []interface{}{
		map[string]interface{}{"label": "person", "confidence": 0.9, "bbox": []interface{}{10.0, 20.0, 110.0, 220.0}},
		map[string]interface{}{"class": "safety-helmet", "score": 0.8, "box": map[string]interface{}{"x1": 1, "y1": 2, "x2": 3, "y2": 4}},
		map[string]interface{}{"class_name": "reflective-jacket", "conf": 0.7, "x1": 5.0, "y1": 6.0, "x2": 7.0, "y2": 8.0},
		map[string]interface{}{"class_id": 1.0, "confidence": 0.6, "xyxy": []interface{}{0.0, 0.0, 5.0, 5.0}},
		[]interface{}{30.0, 40.0, 50.0, 60.0, 0.55, 2.0},
	}

	dets, err := ParseDetections(items, labels)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dets) != 5 {
		t.Fatalf("got %d detections, want 5", len(dets))
	}

	want := []models.Detection{
		{ClassLabel: "person", Confidence: 0.9, Box: models.Box{X1: 10, Y1: 20, X2: 110, Y2: 220}},
		{ClassLabel: "safety-helmet", Confidence: 0.8, Box: models.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}},
		{ClassLabel: "reflective-jacket", Confidence: 0.7, Box: models.Box{X1: 5, Y1: 6, X2: 7, Y2: 8}},
		{ClassLabel: "person", Confidence: 0.6, Box: models.Box{X1: 0, Y1: 0, X2: 5, Y2: 5}},
		{ClassLabel: "safety-helmet", Confidence: 0.55, Box: models.Box{X1: 30, Y1: 40, X2: 50, Y2: 60}},
	}
	for i := range want {
		if dets[i] != want[i] {
			t.Errorf("detection %d = %+v, want %+v", i, dets[i], want[i])
		}
	}
}

func TestParseDetectionsEmpty(t *testing.T) {
	dets, err := ParseDetections(nil, nil)
	if err != nil {
		t.Fatalf("empty input should be valid: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("expected no detections, got %v", dets)
	}
}

func TestParseDetectionsRejectsMalformed(t *testing.T) {
	cases := map[string]interface{}{
		"fractional coordinate": map[string]interface{}{"label": "person", "confidence": 0.9, "bbox": []interface{}{10.5, 20.0, 110.0, 220.0}},
		"short bbox":            map[string]interface{}{"label": "person", "confidence": 0.9, "bbox": []interface{}{10.0, 20.0}},
		"text coordinate":       map[string]interface{}{"label": "person", "confidence": 0.9, "bbox": []interface{}{"a", 20.0, 110.0, 220.0}},
		"degenerate box":        map[string]interface{}{"label": "person", "confidence": 0.9, "bbox": []interface{}{10.0, 20.0, 10.0, 220.0}},
		"missing confidence":    map[string]interface{}{"label": "person", "bbox": []interface{}{0.0, 0.0, 1.0, 1.0}},
		"confidence too high":   map[string]interface{}{"label": "person", "confidence": 1.5, "bbox": []interface{}{0.0, 0.0, 1.0, 1.0}},
		"unknown class id":      []interface{}{0.0, 0.0, 1.0, 1.0, 0.9, 7.0},
		"scalar element":        42.0,
	}

	for name, item := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDetections([]interface{}{item}, []string{"person"})
			if !errors.Is(err, models.ErrInvalidDetectionFormat) {
				t.Fatalf("expected ErrInvalidDetectionFormat, got %v", err)
			}
		})
	}
}
