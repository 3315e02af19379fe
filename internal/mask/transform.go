// Package mask builds per-layer inspection masks from toolpath geometry.
package mask

import (
	"image"

	"gonum.org/v1/gonum/floats"
)

// Transformer maps machine millimeters to raster pixels for one camera
// resolution. X is mirrored to match the camera mounting; Y is not.
type Transformer struct {
	PixPerMM float64
	Width    int
	Height   int
}

// NewTransformer creates a Transformer.
func NewTransformer(pixPerMM float64, width, height int) Transformer {
	return Transformer{PixPerMM: pixPerMM, Width: width, Height: height}
}

// Transform converts parallel millimeter slices to pixel slices.
// The inputs are not modified.
func (t Transformer) Transform(xs, ys []float64) (px, py []float64) {
	px = make([]float64, len(xs))
	py = make([]float64, len(ys))

	floats.ScaleTo(px, -t.PixPerMM, xs)
	floats.AddConst(float64(t.Width/2), px)

	floats.ScaleTo(py, t.PixPerMM, ys)
	floats.AddConst(float64(t.Height/2), py)
	return px, py
}

// Points converts millimeter slices to integer pixel points, truncating
// toward zero.
func (t Transformer) Points(xs, ys []float64) []image.Point {
	px, py := t.Transform(xs, ys)
	pts := make([]image.Point, len(px))
	for i := range px {
		pts[i] = image.Point{X: int(px[i]), Y: int(py[i])}
	}
	return pts
}

// StrokePixels converts a stroke width in millimeters to a whole pixel
// count of at least one.
func (t Transformer) StrokePixels(thicknessMM float64) int {
	px := int(thicknessMM*t.PixPerMM + 0.5)
	if px < 1 {
		return 1
	}
	return px
}
