package detection

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"ppe-safety-worker/internal/models"
)

var (
	labelKeys      = []string{"class_label", "label", "class_name", "name", "class"}
	confidenceKeys = []string{"confidence", "score", "conf"}
	boxKeys        = []string{"bbox", "box", "xyxy", "bounding_box"}
	classIDKeys    = []string{"class_id", "cls", "category_id"}
)

// ParseDetections converts a decoded detector payload into typed detections.
// It accepts the shapes detectors commonly emit:
//
//	{"label": "person", "confidence": 0.9, "bbox": [x1, y1, x2, y2]}
//	{"class": "person", "score": 0.9, "box": {"x1": .., "y1": .., "x2": .., "y2": ..}}
//	{"class_name": "person", "conf": 0.9, "x1": .., "y1": .., "x2": .., "y2": ..}
//	[x1, y1, x2, y2, confidence, class_id]
//
// Numeric class ids are resolved through labels. Coordinates must be whole
// numbers; anything else fails with ErrInvalidDetectionFormat.
func ParseDetections(items []interface{}, labels []string) ([]models.Detection, error) {
	out := make([]models.Detection, 0, len(items))
	for i, item := range items {
		var (
			d   models.Detection
			err error
		)
		switch v := item.(type) {
		case map[string]interface{}:
			d, err = parseObject(v, labels)
		case []interface{}:
			d, err = parseRow(v, labels)
		default:
			err = fmt.Errorf("unsupported element type %T", item)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: detection %d: %v", models.ErrInvalidDetectionFormat, i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseObject(obj map[string]interface{}, labels []string) (models.Detection, error) {
	var d models.Detection

	label, err := findLabel(obj, labels)
	if err != nil {
		return d, err
	}
	d.ClassLabel = label

	conf, ok := first(obj, confidenceKeys)
	if !ok {
		return d, fmt.Errorf("missing confidence")
	}
	if d.Confidence, err = toConfidence(conf); err != nil {
		return d, err
	}

	if raw, ok := first(obj, boxKeys); ok {
		d.Box, err = parseBox(raw)
	} else {
		d.Box, err = boxFromMap(obj)
	}
	return d, err
}

// parseRow handles tensor style rows: x1, y1, x2, y2, confidence, class
func parseRow(row []interface{}, labels []string) (models.Detection, error) {
	var d models.Detection
	if len(row) < 6 {
		return d, fmt.Errorf("row has %d values, want 6", len(row))
	}

	box, err := parseBox(row[:4])
	if err != nil {
		return d, err
	}
	conf, err := toConfidence(row[4])
	if err != nil {
		return d, err
	}
	label, err := resolveLabel(row[5], labels)
	if err != nil {
		return d, err
	}

	return models.Detection{ClassLabel: label, Confidence: conf, Box: box}, nil
}

func parseBox(raw interface{}) (models.Box, error) {
	switch v := raw.(type) {
	case []interface{}:
		if len(v) != 4 {
			return models.Box{}, fmt.Errorf("box has %d coordinates, want 4", len(v))
		}
		var c [4]int
		for i := range v {
			n, err := toInt(v[i])
			if err != nil {
				return models.Box{}, err
			}
			c[i] = n
		}
		return validBox(models.Box{X1: c[0], Y1: c[1], X2: c[2], Y2: c[3]})
	case map[string]interface{}:
		return boxFromMap(v)
	default:
		return models.Box{}, fmt.Errorf("unsupported box type %T", raw)
	}
}

func boxFromMap(m map[string]interface{}) (models.Box, error) {
	keys := [4]string{"x1", "y1", "x2", "y2"}
	var c [4]int
	for i, k := range keys {
		v, ok := m[k]
		if !ok {
			return models.Box{}, fmt.Errorf("missing %s", k)
		}
		n, err := toInt(v)
		if err != nil {
			return models.Box{}, fmt.Errorf("%s: %v", k, err)
		}
		c[i] = n
	}
	return validBox(models.Box{X1: c[0], Y1: c[1], X2: c[2], Y2: c[3]})
}

func validBox(b models.Box) (models.Box, error) {
	if !b.Valid() {
		return b, fmt.Errorf("degenerate box %+v", b)
	}
	return b, nil
}

func findLabel(obj map[string]interface{}, labels []string) (string, error) {
	for _, k := range labelKeys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		return resolveLabel(v, labels)
	}
	if v, ok := first(obj, classIDKeys); ok {
		return resolveLabel(v, labels)
	}
	return "", fmt.Errorf("missing class label")
}

func resolveLabel(v interface{}, labels []string) (string, error) {
	if s, ok := v.(string); ok {
		if s == "" {
			return "", fmt.Errorf("empty class label")
		}
		return s, nil
	}
	id, err := toInt(v)
	if err != nil {
		return "", fmt.Errorf("class: %v", err)
	}
	if id < 0 || id >= len(labels) {
		return "", fmt.Errorf("class id %d has no label", id)
	}
	return labels[id], nil
}

func first(obj map[string]interface{}, keys []string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// toInt accepts integers or floats with no fractional part
func toInt(v interface{}) (int, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("coordinate %v is not an integer", f)
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("coordinate %v out of range", f)
	}
	return int(f), nil
}

func toConfidence(v interface{}) (float64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("confidence: %v", err)
	}
	if math.IsNaN(f) || f < 0 || f > 1 {
		return 0, fmt.Errorf("confidence %v outside [0,1]", f)
	}
	return f, nil
}
