package models

import "errors"

// Error taxonomy shared by the capture pipeline. Callers wrap these with
// fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	// ErrCameraUnavailable ends the current capture session
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrDetectorFailure skips the current frame
	ErrDetectorFailure = errors.New("detector failure")
	// ErrInvalidDetectionFormat empties one detector's result for the current frame
	ErrInvalidDetectionFormat = errors.New("invalid detection format")
	// ErrResourceBusy is returned by Start when the previous worker still holds the camera
	ErrResourceBusy = errors.New("resource busy: previous capture worker has not released the camera")
	// ErrWebhookDelivery is logged and never fatal
	ErrWebhookDelivery = errors.New("webhook delivery failure")
	// ErrConfiguration is fatal at startup
	ErrConfiguration = errors.New("configuration error")
)
