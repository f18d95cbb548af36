// Package dnn runs SSD style detection models in-process with OpenCV DNN.
package dnn

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"ppe-safety-worker/internal/models"
)

// Options configures the in-process network
type Options struct {
	Name       string
	ModelPath  string
	ConfigPath string
	Labels     []string
	InputSize  int
	// MinConfidence drops raw rows early; the matcher applies the real threshold
	MinConfidence float32
}

// Detector wraps a gocv.Net. The network is not safe for concurrent use so
// Detect calls are serialised.
type Detector struct {
	opts Options

	mu  sync.Mutex
	net gocv.Net
}

// NewDetector loads the model files and selects the CPU backend
func NewDetector(opts Options) (*Detector, error) {
	if opts.InputSize <= 0 {
		opts.InputSize = 300
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: model file %s: %v", models.ErrConfiguration, opts.ModelPath, err)
	}
	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err != nil {
			return nil, fmt.Errorf("%w: model config %s: %v", models.ErrConfiguration, opts.ConfigPath, err)
		}
	}

	net := gocv.ReadNet(opts.ModelPath, opts.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: failed to load network %s", models.ErrConfiguration, opts.ModelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("set target: %w", err)
	}

	log.Info().
		Str("detector", opts.Name).
		Str("model", opts.ModelPath).
		Int("input_size", opts.InputSize).
		Int("labels", len(opts.Labels)).
		Msg("Detection network initialized")

	return &Detector{opts: opts, net: net}, nil
}

func (d *Detector) Name() string { return d.opts.Name }

// Detect runs one forward pass over a BGR24 frame
func (d *Detector) Detect(ctx context.Context, frame *models.RawFrame) ([]models.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDetectorFailure, err)
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: frame to mat: %v", models.ErrDetectorFailure, d.opts.Name, err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(d.opts.InputSize, d.opts.InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	if output.Empty() || output.Total()%7 != 0 {
		return nil, fmt.Errorf("%w: %s: unexpected output shape %v", models.ErrInvalidDetectionFormat, d.opts.Name, output.Size())
	}

	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	return parseSSDRows(rows.Rows(), func(r, c int) float32 { return rows.GetFloatAt(r, c) },
		frame.Width, frame.Height, d.opts.Labels, d.opts.MinConfidence), nil
}

// parseSSDRows decodes [image_id, class_id, confidence, x1, y1, x2, y2] rows
// with coordinates normalised to [0,1]
func parseSSDRows(n int, at func(r, c int) float32, width, height int, labels []string, minConf float32) []models.Detection {
	out := make([]models.Detection, 0)
	for i := 0; i < n; i++ {
		conf := at(i, 2)
		if conf < minConf || conf > 1 {
			continue
		}
		classID := int(at(i, 1))
		if classID < 0 || classID >= len(labels) {
			continue
		}

		box := models.Box{
			X1: clamp(int(at(i, 3)*float32(width)), 0, width),
			Y1: clamp(int(at(i, 4)*float32(height)), 0, height),
			X2: clamp(int(at(i, 5)*float32(width)), 0, width),
			Y2: clamp(int(at(i, 6)*float32(height)), 0, height),
		}
		if !box.Valid() {
			continue
		}

		out = append(out, models.Detection{
			ClassLabel: labels[classID],
			Confidence: float64(conf),
			Box:        box,
		})
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Close frees the network
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
