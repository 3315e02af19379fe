// Package geometry provides basic geometric types used throughout the application.
package geometry

import "math"

// Point2D represents a 2D point with floating-point coordinates.
// Machine-space points are in millimeters, raster points in pixels.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Split returns the X and Y coordinates of a point list as parallel slices.
func Split(points []Point2D) (xs, ys []float64) {
	xs = make([]float64, len(points))
	ys = make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}
	return xs, ys
}

// Rect represents a rectangle with floating-point coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BoundingBox computes the axis-aligned bounding box of a set of points.
func BoundingBox(points []Point2D) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// BoxInt is a corner-form pixel box: (X0,Y0) top-left, (X2,Y2) bottom-right.
type BoxInt struct {
	X0 int
	Y0 int
	X2 int
	Y2 int
}

// RoundBox builds a BoxInt from floating-point corners, rounding each to
// the nearest pixel.
func RoundBox(x0, y0, x2, y2 float64) BoxInt {
	return BoxInt{
		X0: int(math.RoundToEven(x0)),
		Y0: int(math.RoundToEven(y0)),
		X2: int(math.RoundToEven(x2)),
		Y2: int(math.RoundToEven(y2)),
	}
}

// Width returns X2 - X0.
func (b BoxInt) Width() int { return b.X2 - b.X0 }

// Height returns Y2 - Y0.
func (b BoxInt) Height() int { return b.Y2 - b.Y0 }

// Area returns the box area in pixels².
func (b BoxInt) Area() int { return b.Width() * b.Height() }

// AspectRatio returns width/height, or 0 for a zero-height box.
func (b BoxInt) AspectRatio() float64 {
	if b.Height() == 0 {
		return 0
	}
	return float64(b.Width()) / float64(b.Height())
}

// Corners returns the box as [x0, y0, x2, y2].
func (b BoxInt) Corners() [4]int {
	return [4]int{b.X0, b.Y0, b.X2, b.Y2}
}
