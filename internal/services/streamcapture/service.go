package streamcapture

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"ppe-safety-worker/internal/config"
	"ppe-safety-worker/internal/models"
)

const maxConsecutiveErrors = 10

// Service opens camera sources through OpenCV VideoCapture
type Service struct {
	cfg *config.Config
}

// NewService creates a new stream capture service
func NewService(cfg *config.Config) *Service {
	return &Service{cfg: cfg}
}

// Camera is an open capture handle. It is owned by a single worker
// goroutine and must be closed on every exit path.
type Camera struct {
	cap     *gocv.VideoCapture
	img     gocv.Mat
	source  string
	isFile  bool
	frameID int64
}

// Open acquires the configured camera
func (s *Service) Open(ctx context.Context) (*Camera, error) {
	target, err := s.cfg.Camera.Target()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCameraUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cap *gocv.VideoCapture
	isFile := false
	switch t := target.(type) {
	case int:
		log.Info().Int("device", t).Msg("Opening local camera")
		cap, err = gocv.OpenVideoCapture(t)
	case string:
		if isNetworkURL(t) {
			configureFFmpegOptions()
			log.Info().Str("url", t).Msg("Opening network stream")
			cap, err = gocv.OpenVideoCaptureWithAPI(t, gocv.VideoCaptureFFmpeg)
		} else {
			log.Info().Str("path", t).Msg("Opening video file")
			isFile = true
			cap, err = gocv.OpenVideoCapture(t)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported source %v", models.ErrCameraUnavailable, target)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %v: %v", models.ErrCameraUnavailable, target, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("%w: %v is not opened", models.ErrCameraUnavailable, target)
	}

	if !isFile {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(s.cfg.CaptureWidth))
		cap.Set(gocv.VideoCaptureFrameHeight, float64(s.cfg.CaptureHeight))
		cap.Set(gocv.VideoCaptureBufferSize, 1)
	}

	log.Info().
		Str("source", fmt.Sprint(target)).
		Float64("fps", cap.Get(gocv.VideoCaptureFPS)).
		Float64("width", cap.Get(gocv.VideoCaptureFrameWidth)).
		Float64("height", cap.Get(gocv.VideoCaptureFrameHeight)).
		Msg("VideoCapture opened successfully")

	return &Camera{cap: cap, img: gocv.NewMat(), source: fmt.Sprint(target), isFile: isFile}, nil
}

// Read blocks for the next frame. It returns io.EOF when a file source is
// exhausted and ErrCameraUnavailable once a live source keeps failing.
func (c *Camera) Read(ctx context.Context) (*models.RawFrame, error) {
	consecutiveErrors := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if ok := c.cap.Read(&c.img); ok && !c.img.Empty() {
			break
		}
		if c.isFile {
			return nil, io.EOF
		}

		consecutiveErrors++
		log.Warn().
			Str("source", c.source).
			Int("consecutive_errors", consecutiveErrors).
			Msg("Failed to read frame from VideoCapture")
		if consecutiveErrors >= maxConsecutiveErrors {
			return nil, fmt.Errorf("%w: %d consecutive read failures", models.ErrCameraUnavailable, consecutiveErrors)
		}

		// Progressive delay, interrupted by cancellation
		delay := time.Duration(consecutiveErrors*50) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	c.frameID++
	return &models.RawFrame{
		Data:      c.img.ToBytes(),
		Timestamp: time.Now(),
		FrameID:   c.frameID,
		Width:     c.img.Cols(),
		Height:    c.img.Rows(),
		Format:    "BGR24",
	}, nil
}

// Close releases the device
func (c *Camera) Close() error {
	c.img.Close()
	if err := c.cap.Close(); err != nil {
		return err
	}
	log.Info().Str("source", c.source).Msg("Camera released")
	return nil
}

// Resizer scales BGR24 frames with OpenCV
type Resizer struct{}

// Resize returns a copy of frame scaled to width x height
func (Resizer) Resize(frame *models.RawFrame, width, height int) (*models.RawFrame, error) {
	src, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("frame to mat: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	if err := gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear); err != nil {
		return nil, fmt.Errorf("resize: %w", err)
	}

	out := *frame
	out.Data = dst.ToBytes()
	out.Width = dst.Cols()
	out.Height = dst.Rows()
	return &out, nil
}

func isNetworkURL(s string) bool {
	for _, prefix := range []string{"rtsp://", "rtsps://", "http://", "https://", "tcp://", "udp://"} {
		if strings.HasPrefix(strings.ToLower(s), prefix) {
			return true
		}
	}
	return false
}

// configureFFmpegOptions sets low latency FFmpeg options for network streams
func configureFFmpegOptions() {
	if os.Getenv("OPENCV_FFMPEG_CAPTURE_OPTIONS") != "" {
		return
	}

	ffmpegOptions := map[string]string{
		"rtsp_transport":  "tcp",
		"buffer_size":     "2097152",
		"max_delay":       "500000",
		"stimeout":        "5000000",
		"rw_timeout":      "5000000",
		"flags":           "low_delay",
		"fflags":          "nobuffer+flush_packets",
		"analyzeduration": "500000",
		"probesize":       "2000000",
	}

	opts := make([]string, 0, len(ffmpegOptions))
	for key, value := range ffmpegOptions {
		opts = append(opts, key+";"+value)
	}
	sort.Strings(opts)
	joined := strings.Join(opts, "|")

	os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", joined)
	log.Debug().Str("ffmpeg_options", joined).Msg("FFmpeg options configured for OpenCV")
}
