package models

import (
	"fmt"
	"strconv"
	"strings"
)

// StreamProtocol is the transport used to reach a remote Pi camera
type StreamProtocol string

const (
	ProtocolRTSP StreamProtocol = "rtsp"
	ProtocolHTTP StreamProtocol = "http"
	ProtocolTCP  StreamProtocol = "tcp"
	ProtocolUDP  StreamProtocol = "udp"
)

// IsValid checks if the protocol is supported
func (p StreamProtocol) IsValid() bool {
	switch p {
	case ProtocolRTSP, ProtocolHTTP, ProtocolTCP, ProtocolUDP:
		return true
	default:
		return false
	}
}

// CameraSource describes where frames come from: a local device index,
// a full stream URL, or a Pi camera reachable by host/port/path.
type CameraSource struct {
	Device   string         `json:"device,omitempty"`
	PiIP     string         `json:"pi_ip,omitempty"`
	PiPort   string         `json:"pi_port,omitempty"`
	PiPath   string         `json:"pi_path,omitempty"`
	Protocol StreamProtocol `json:"protocol,omitempty"`
}

// Target returns the value to hand to the capture backend: an int device
// index for local cameras, or a URL string.
func (s CameraSource) Target() (interface{}, error) {
	if s.PiIP != "" || s.Protocol == ProtocolUDP {
		url, err := s.URL()
		if err != nil {
			return nil, err
		}
		return url, nil
	}

	device := strings.TrimSpace(s.Device)
	if device == "" {
		return 0, nil
	}
	if idx, err := strconv.Atoi(device); err == nil {
		return idx, nil
	}
	return device, nil
}

// URL builds the remote stream URL for a Pi camera
func (s CameraSource) URL() (string, error) {
	protocol := s.Protocol
	if protocol == "" {
		protocol = ProtocolRTSP
	}
	if !protocol.IsValid() {
		return "", fmt.Errorf("unsupported stream protocol %q", protocol)
	}

	port := s.PiPort
	if port == "" {
		port = "8554"
	}

	switch protocol {
	case ProtocolRTSP:
		path := strings.TrimPrefix(s.PiPath, "/")
		if path == "" {
			path = "cam"
		}
		return fmt.Sprintf("rtsp://%s:%s/%s", s.PiIP, port, path), nil
	case ProtocolHTTP:
		return fmt.Sprintf("http://%s:%s", s.PiIP, port), nil
	case ProtocolTCP:
		return fmt.Sprintf("tcp://%s:%s", s.PiIP, port), nil
	default:
		// UDP listens locally for a pushed stream
		return fmt.Sprintf("udp://0.0.0.0:%s", port), nil
	}
}

// String returns a log friendly description of the source
func (s CameraSource) String() string {
	target, err := s.Target()
	if err != nil {
		return "invalid:" + err.Error()
	}
	return fmt.Sprint(target)
}
