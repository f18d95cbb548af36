package models

// SessionState represents the lifecycle state of the capture session
type SessionState string

const (
	SessionIdle     SessionState = "IDLE"
	SessionRunning  SessionState = "RUNNING"
	SessionStopping SessionState = "STOPPING"
	SessionError    SessionState = "ERROR"
)

// String returns the string representation of SessionState
func (s SessionState) String() string {
	return string(s)
}

// Active reports whether a worker may still hold the camera
func (s SessionState) Active() bool {
	return s == SessionRunning || s == SessionStopping
}

// SessionInfo is returned by lifecycle commands
type SessionInfo struct {
	State     SessionState `json:"state"`
	LastError string       `json:"last_error,omitempty"`
	Frames    int64        `json:"frames_processed"`
}
