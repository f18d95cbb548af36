// Package annotate draws compliance overlays onto frames and encodes them as JPEG.
package annotate

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"ppe-safety-worker/internal/models"
)

// Renderer turns processed frames into annotated JPEG bytes
type Renderer struct {
	quality int
}

func NewRenderer(jpegQuality int) *Renderer {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 80
	}
	return &Renderer{quality: jpegQuality}
}

// Render draws PPE boxes, person verdicts and the status banner
func (r *Renderer) Render(result *models.FrameResult) ([]byte, error) {
	mat, err := toMat(result.Frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	for _, d := range result.PPE {
		drawBox(&mat, toRect(d.Box), fmt.Sprintf("%s: %.2f", d.ClassLabel, d.Confidence), ppeColor)
	}

	if result.Summary.PersonCount == 0 {
		drawBanner(&mat, "No person detected", idleColor)
		return r.encode(mat)
	}

	for _, p := range result.Roster {
		c := safeColor
		if p.Status == models.StatusUnsafe {
			c = unsafeColor
		}
		drawBox(&mat, toRect(p.Box), PersonLabel(p), c)
	}

	if result.State.OverallStatus == models.OverallUnsafe {
		drawBanner(&mat, "UNSAFE", unsafeColor)
	} else {
		drawBanner(&mat, "SAFE", safeColor)
	}
	drawFooter(&mat, fmt.Sprintf("Persons: %d | Safe: %d | Unsafe: %d",
		result.Summary.PersonCount, result.Summary.SafeCount, result.Summary.UnsafeCount))

	return r.encode(mat)
}

// Encode compresses an unannotated frame, used for remote detectors
func (r *Renderer) Encode(frame *models.RawFrame) ([]byte, error) {
	mat, err := toMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	return r.encode(mat)
}

// Placeholder renders the frame shown to stream clients before the first
// processed frame arrives
func (r *Renderer) Placeholder(width, height int, text string) ([]byte, error) {
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	defer mat.Close()
	drawBanner(&mat, text, idleColor)
	return r.encode(mat)
}

func (r *Renderer) encode(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, r.quality})
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// PersonLabel formats the per person overlay. Hershey fonts are ASCII only.
func PersonLabel(p models.PersonRecord) string {
	return fmt.Sprintf("%s H:%s J:%s", p.Status, mark(p.HelmetPresent), mark(p.JacketPresent))
}

func mark(ok bool) string {
	if ok {
		return "Y"
	}
	return "N"
}

func toMat(frame *models.RawFrame) (gocv.Mat, error) {
	if frame == nil || len(frame.Data) == 0 {
		return gocv.Mat{}, fmt.Errorf("empty frame")
	}
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("frame to mat: %w", err)
	}
	// the mat shares frame.Data; clone so drawing never touches the source frame
	clone := mat.Clone()
	mat.Close()
	return clone, nil
}

func toRect(b models.Box) image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}
