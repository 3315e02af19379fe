// Package defect turns classifier detections into per-layer decisions.
package defect

import (
	"context"
	"math"

	"layer-monitor/pkg/geometry"

	"gocv.io/x/gocv"
)

// Class is a defect label emitted by the classifier.
type Class string

const (
	Overextrusion  Class = "Overextrusion"
	Underextrusion Class = "Underextrusion"
)

// Detection is one defect instance found in a layer image.
type Detection struct {
	Class      Class
	Confidence float64
	Box        geometry.BoxInt
}

// NewDetection builds a Detection from raw model output, rounding the box
// corners to whole pixels and the confidence to two decimals.
func NewDetection(class Class, confidence float64, x0, y0, x2, y2 float64) Detection {
	return Detection{
		Class:      class,
		Confidence: math.Round(confidence*100) / 100,
		Box:        geometry.RoundBox(x0, y0, x2, y2),
	}
}

// Area returns the bounding box area in pixels².
func (d Detection) Area() int { return d.Box.Area() }

// AspectRatio returns the bounding box width/height.
func (d Detection) AspectRatio() float64 { return d.Box.AspectRatio() }

// DetectionRecord is the persisted form of a Detection.
type DetectionRecord struct {
	Class       Class   `json:"Class"`
	Confidence  float64 `json:"Confidence"`
	Coordinates [4]int  `json:"Defect coordinates"`
	Area        int     `json:"Box area (px)"`
	AspectRatio float64 `json:"Box aspect ratio"`
}

// Record converts d to its persisted form.
func (d Detection) Record() DetectionRecord {
	return DetectionRecord{
		Class:       d.Class,
		Confidence:  d.Confidence,
		Coordinates: d.Box.Corners(),
		Area:        d.Area(),
		AspectRatio: d.AspectRatio(),
	}
}

// LayerSummary is the inspection report of one layer. The JSON field names
// are consumed by downstream tooling and must not change.
type LayerSummary struct {
	Layer           int               `json:"Layer number"`
	Total           int               `json:"Number of defects"`
	Overextrusions  int               `json:"Overextrusions"`
	Underextrusions int               `json:"Underextrusions"`
	Notes           string            `json:"Notes"`
	CaptureRef      string            `json:"Timestamp"`
	Detections      []DetectionRecord `json:"Defect data"`
	Decision        string            `json:"Decision"`
	Outcome         Outcome           `json:"Outcome"`
}

// Classifier finds defects in a masked layer image.
type Classifier interface {
	Classify(ctx context.Context, img gocv.Mat) ([]Detection, error)
}
