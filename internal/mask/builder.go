package mask

import (
	"image"
	"image/color"

	"layer-monitor/internal/toolpath"
	"layer-monitor/pkg/geometry"

	"gocv.io/x/gocv"
)

var maskWhite = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// LayerMask is the binary inspection region of one layer: a single-channel
// 8-bit Mat holding 0 outside and 255 inside the printed footprint.
type LayerMask struct {
	Layer int
	Mat   gocv.Mat
}

// Size returns the mask dimensions as (width, height).
func (m *LayerMask) Size() (int, int) {
	return m.Mat.Cols(), m.Mat.Rows()
}

// Area returns the number of inspected pixels.
func (m *LayerMask) Area() int {
	if m.Mat.Empty() {
		return 0
	}
	return gocv.CountNonZero(m.Mat)
}

// IsBlank reports whether the mask selects no pixels.
func (m *LayerMask) IsBlank() bool {
	return m.Area() == 0
}

// Close releases the native buffer.
func (m *LayerMask) Close() error {
	return m.Mat.Close()
}

// Builder rasterises layer paths into filled region masks.
type Builder struct {
	tf Transformer
}

// NewBuilder creates a Builder for the transformer's resolution.
func NewBuilder(tf Transformer) *Builder {
	return &Builder{tf: tf}
}

// Build reconstructs the printed path of a layer and rasterises it.
// Layers without at least two path points yield an all-zero mask.
func (b *Builder) Build(layer int, moves []toolpath.Move, thicknessMM float64) *LayerMask {
	return b.BuildPath(layer, ReconstructPath(moves), thicknessMM)
}

// BuildPath rasterises an already reconstructed millimeter path.
func (b *Builder) BuildPath(layer int, path []geometry.Point2D, thicknessMM float64) *LayerMask {
	m := gocv.Zeros(b.tf.Height, b.tf.Width, gocv.MatTypeCV8U)
	if len(path) < 2 {
		return &LayerMask{Layer: layer, Mat: m}
	}

	xs, ys := geometry.Split(path)
	pts := b.tf.Points(xs, ys)

	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()
	gocv.Polylines(&m, pv, false, maskWhite, b.tf.StrokePixels(thicknessMM))

	fillExternal(&m)
	return &LayerMask{Layer: layer, Mat: m}
}

// fillExternal fills the interior of every outer contour in place, so an
// open stroke outline becomes a solid region.
func fillExternal(m *gocv.Mat) {
	contours := gocv.FindContours(*m, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer contours.Close()

	for i := 0; i < contours.Size(); i++ {
		gocv.DrawContours(m, contours, i, maskWhite, -1)
	}
}
