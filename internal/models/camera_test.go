package models

import "testing"

func TestCameraSourceTarget(t *testing.T) {
	cases := []struct {
		name string
		src  CameraSource
		want interface{}
	}{
		{"default device", CameraSource{}, 0},
		{"device index", CameraSource{Device: "2"}, 2},
		{"file path", CameraSource{Device: "/tmp/site.mp4"}, "/tmp/site.mp4"},
		{"pi rtsp defaults", CameraSource{PiIP: "192.168.1.20"}, "rtsp://192.168.1.20:8554/cam"},
		{"pi rtsp path", CameraSource{PiIP: "192.168.1.20", PiPath: "/front", PiPort: "554"}, "rtsp://192.168.1.20:554/front"},
		{"pi tcp", CameraSource{PiIP: "192.168.1.20", Protocol: ProtocolTCP, PiPort: "5000"}, "tcp://192.168.1.20:5000"},
		{"udp listener", CameraSource{Protocol: ProtocolUDP, PiPort: "5600"}, "udp://0.0.0.0:5600"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.src.Target()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Target() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCameraSourceRejectsUnknownProtocol(t *testing.T) {
	src := CameraSource{PiIP: "10.0.0.1", Protocol: "srt"}
	if _, err := src.Target(); err == nil {
		t.Fatal("expected error for unsupported protocol")
	}
}

func TestBoxContainsPointInclusive(t *testing.T) {
	b := Box{X1: 0, Y1: 0, X2: 100, Y2: 200}
	if !b.ContainsPoint(100, 200) {
		t.Error("corner should be inside")
	}
	if b.ContainsPoint(100.5, 10) {
		t.Error("point past the right edge should be outside")
	}
	cx, cy := Box{X1: 1, Y1: 1, X2: 2, Y2: 2}.Center()
	if cx != 1.5 || cy != 1.5 {
		t.Errorf("center = %v,%v", cx, cy)
	}
}
