package annotate

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	safeColor   = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	unsafeColor = color.RGBA{R: 230, G: 0, B: 0, A: 255}
	idleColor   = color.RGBA{R: 100, G: 100, B: 100, A: 255}
	ppeColor    = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	white       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// drawBanner fills the status box in the top left corner and writes text on it
func drawBanner(mat *gocv.Mat, text string, bg color.RGBA) {
	gocv.Rectangle(mat, image.Rect(10, 10, 420, 60), bg, -1)
	gocv.PutText(mat, text, image.Pt(20, 45), gocv.FontHersheySimplex, 1.0, white, 2)
}

// drawBox outlines a detection and writes its label just inside the top edge
func drawBox(mat *gocv.Mat, rect image.Rectangle, label string, c color.RGBA) {
	gocv.Rectangle(mat, rect, c, 2)
	if label != "" {
		drawLabel(mat, label, rect.Min.X+5, rect.Min.Y+25, c, 0.7, 2)
	}
}

// drawLabel draws text with a dark background so it stays readable on any frame
func drawLabel(mat *gocv.Mat, text string, x, y int, textColor color.RGBA, fontScale float64, thickness int) {
	fontFace := gocv.FontHersheySimplex
	size := gocv.GetTextSize(text, fontFace, fontScale, thickness)

	padding := 4
	bg := image.Rect(x-padding, y-size.Y-padding, x+size.X+padding, y+padding)
	gocv.Rectangle(mat, bg, color.RGBA{A: 200}, -1)
	gocv.PutText(mat, text, image.Pt(x, y), fontFace, fontScale, textColor, thickness)
}

// drawFooter writes the per frame counters along the bottom edge
func drawFooter(mat *gocv.Mat, text string) {
	gocv.PutText(mat, text, image.Pt(20, mat.Rows()-20), gocv.FontHersheySimplex, 0.6, white, 1)
}
