package models

import (
	"time"
)

// ComplianceStatus is the verdict for a single person
type ComplianceStatus string

const (
	StatusSafe   ComplianceStatus = "SAFE"
	StatusUnsafe ComplianceStatus = "UNSAFE"
)

// OverallStatus represents the aggregate verdict for a frame
type OverallStatus string

const (
	OverallUnknown  OverallStatus = "UNKNOWN"
	OverallSafe     OverallStatus = "SAFE"
	OverallUnsafe   OverallStatus = "UNSAFE"
	OverallNoPerson OverallStatus = "NO_PERSON"
)

// Box is an axis aligned bounding box in integer pixel coordinates
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Valid reports whether the box has positive width and height
func (b Box) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Center returns the midpoint of the box extents
func (b Box) Center() (float64, float64) {
	return float64(b.X1+b.X2) / 2.0, float64(b.Y1+b.Y2) / 2.0
}

// ContainsPoint reports whether (x, y) lies inside the box, edges inclusive
func (b Box) ContainsPoint(x, y float64) bool {
	return float64(b.X1) <= x && x <= float64(b.X2) &&
		float64(b.Y1) <= y && y <= float64(b.Y2)
}

// Detection is a single object reported by a detector for one frame
type Detection struct {
	ClassLabel string  `json:"class_label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// PersonRecord is the per-frame compliance result for one person box
type PersonRecord struct {
	Box           Box              `json:"box"`
	HelmetPresent bool             `json:"helmet"`
	JacketPresent bool             `json:"jacket"`
	Status        ComplianceStatus `json:"status"`
}

// FrameSummary aggregates a roster of person records
type FrameSummary struct {
	PersonCount int       `json:"person_count"`
	SafeCount   int       `json:"safe_count"`
	UnsafeCount int       `json:"unsafe_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// DetectionState is the process-wide snapshot read by status queries.
// Values are immutable once published.
type DetectionState struct {
	Summary           FrameSummary  `json:"summary"`
	HelmetDetectedAny bool          `json:"helmet_detected"`
	JacketDetectedAny bool          `json:"jacket_detected"`
	OverallStatus     OverallStatus `json:"status"`
	UpdatedAt         time.Time     `json:"updated_at"`
	FrameID           int64         `json:"frame_id"`
}

// UnknownState is the neutral state before any frame has been processed
func UnknownState() DetectionState {
	return DetectionState{OverallStatus: OverallUnknown}
}

// RawFrame represents a BGR24 frame read from the camera
type RawFrame struct {
	Data      []byte
	Timestamp time.Time
	FrameID   int64
	Width     int
	Height    int
	Format    string
}

// FrameResult carries everything produced for one processed frame
type FrameResult struct {
	Frame      *RawFrame
	PPE        []Detection
	Persons    []Detection
	Roster     []PersonRecord
	Summary    FrameSummary
	State      DetectionState
	Processing time.Duration
}
