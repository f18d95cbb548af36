package handlers

import (
	"context"
	"time"

	"ppe-safety-worker/internal/models"
)

// SessionController is the capture lifecycle as seen by HTTP callers
type SessionController interface {
	Start() (models.SessionInfo, error)
	Stop() models.SessionInfo
	Info() models.SessionInfo
}

// StateSource exposes the latest detection state
type StateSource interface {
	Snapshot() models.DetectionState
	Subscribe() (<-chan models.DetectionState, func())
}

// AlertHistory lists recorded delivery attempts, newest first
type AlertHistory interface {
	List(ctx context.Context, limit int) ([]models.AlertRecord, error)
}

type ErrorResponse struct {
	Success bool   `json:"success" example:"false"`
	Error   string `json:"error" example:"camera is still being released"`
}

type SessionResponse struct {
	Success bool                `json:"success" example:"true"`
	State   models.SessionState `json:"state" example:"RUNNING"`
	Message string              `json:"message,omitempty" example:"Safety detection is now live"`
	Error   string              `json:"error,omitempty"`
}

// StatusResponse keeps the flat field names dashboards already consume
type StatusResponse struct {
	HelmetDetected bool               `json:"helmet_detected"`
	JacketDetected bool               `json:"jacket_detected"`
	Status         string             `json:"status" example:"SAFE"`
	PersonCount    int                `json:"person_count"`
	SafeCount      int                `json:"safe_count"`
	UnsafeCount    int                `json:"unsafe_count"`
	Timestamp      string             `json:"timestamp" example:"2024-05-01 12:00:00"`
	FrameID        int64              `json:"frame_id"`
	Session        models.SessionInfo `json:"session"`
}

const statusTimeLayout = "2006-01-02 15:04:05"

// NewStatusResponse flattens a detection state. The timestamp is empty until
// the first frame has been processed.
func NewStatusResponse(s models.DetectionState, session models.SessionInfo) StatusResponse {
	resp := StatusResponse{
		HelmetDetected: s.HelmetDetectedAny,
		JacketDetected: s.JacketDetectedAny,
		Status:         string(s.OverallStatus),
		PersonCount:    s.Summary.PersonCount,
		SafeCount:      s.Summary.SafeCount,
		UnsafeCount:    s.Summary.UnsafeCount,
		FrameID:        s.FrameID,
		Session:        session,
	}
	if !s.UpdatedAt.IsZero() {
		resp.Timestamp = s.UpdatedAt.Local().Format(statusTimeLayout)
	}
	return resp
}

type AlertsResponse struct {
	Success bool                 `json:"success"`
	Count   int                  `json:"count"`
	Alerts  []models.AlertRecord `json:"alerts"`
}

func unixNow() int64 { return time.Now().Unix() }
