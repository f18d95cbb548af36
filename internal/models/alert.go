package models

import (
	"context"
	"time"
)

// EventKind distinguishes compliant notifications from violation alerts
type EventKind string

const (
	EventNotification EventKind = "NOTIFICATION"
	EventAlert        EventKind = "ALERT"
)

// PayloadType is the wire "type" field used by webhook consumers
func (k EventKind) PayloadType() string {
	if k == EventAlert {
		return "safety_violation"
	}
	return "safety_compliance"
}

// AlertEvent is created by the dispatcher and handed to deliverers
type AlertEvent struct {
	ID        string        `json:"id"`
	Kind      EventKind     `json:"kind"`
	Status    OverallStatus `json:"status"`
	Message   string        `json:"message"`
	Missing   []string      `json:"missing,omitempty"`
	Summary   FrameSummary  `json:"summary"`
	Timestamp time.Time     `json:"timestamp"`
}

// AlertRecord is a persisted delivery attempt
type AlertRecord struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	Kind      EventKind `json:"kind"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Transport string    `json:"transport,omitempty"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Deliverer pushes alert events to an external transport
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, event AlertEvent) error
}
