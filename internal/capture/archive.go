package capture

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"layer-monitor/internal/defect"

	"gocv.io/x/gocv"
)

// StampLayout names archived frames: day_month_year_hour_minute_second.
const StampLayout = "02_01_06_15_04_05"

var (
	boxColor   = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	labelColor = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// Archive stores raw, masked and annotated layer images under <root>/Camera.
type Archive struct {
	dir string
	now func() time.Time
}

// NewArchive creates an Archive rooted at root.
func NewArchive(root string) *Archive {
	return &Archive{dir: filepath.Join(root, "Camera"), now: time.Now}
}

// Dir returns the folder frames are written to.
func (a *Archive) Dir() string { return a.dir }

// Stamp returns the timestamp used to pair a raw frame with its mask.
func (a *Archive) Stamp() string {
	return a.now().UTC().Format(StampLayout)
}

// RawName is the archived file name of a raw frame.
func RawName(stamp string) string { return "image_" + stamp + ".bmp" }

// MaskedName is the archived file name of a masked frame.
func MaskedName(stamp string) string { return "mask_image_" + stamp + ".bmp" }

// PredictionsName is the archived file name of the annotated detections.
func PredictionsName(stamp string) string { return "image_" + stamp + "_predictions.jpeg" }

// WriteRaw stores the captured frame and returns its path.
func (a *Archive) WriteRaw(stamp string, m gocv.Mat) (string, error) {
	return a.write(RawName(stamp), m)
}

// WriteMasked stores the masked frame and returns its path.
func (a *Archive) WriteMasked(stamp string, m gocv.Mat) (string, error) {
	return a.write(MaskedName(stamp), m)
}

func (a *Archive) write(name string, m gocv.Mat) (string, error) {
	if m.Empty() {
		return "", fmt.Errorf("archive %s: empty image", name)
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("archive dir: %w", err)
	}
	path := filepath.Join(a.dir, name)
	if !gocv.IMWrite(path, m) {
		return "", fmt.Errorf("archive %s: write failed", name)
	}
	return path, nil
}

// WritePredictions draws every detection onto a colour copy of img and
// stores it as JPEG. A layer without detections is stored unannotated.
func (a *Archive) WritePredictions(stamp string, img gocv.Mat, dets []defect.Detection) (string, error) {
	if img.Empty() {
		return "", fmt.Errorf("archive %s: empty image", PredictionsName(stamp))
	}
	annotated := Annotate(img, dets)
	defer annotated.Close()
	return a.write(PredictionsName(stamp), annotated)
}

// Annotate returns a 3-channel copy of img with each detection boxed and
// labelled with its class and confidence. The caller owns the result.
func Annotate(img gocv.Mat, dets []defect.Detection) gocv.Mat {
	out := gocv.NewMat()
	if img.Channels() == 1 {
		gocv.CvtColor(img, &out, gocv.ColorGrayToBGR)
	} else {
		img.CopyTo(&out)
	}

	for _, d := range dets {
		r := image.Rect(d.Box.X0, d.Box.Y0, d.Box.X2, d.Box.Y2)
		gocv.Rectangle(&out, r, boxColor, 2)

		label := fmt.Sprintf("%s %.2f", d.Class, d.Confidence)
		org := image.Pt(r.Min.X, r.Min.Y-4)
		if org.Y < 12 {
			org.Y = r.Max.Y + 14
		}
		gocv.PutText(&out, label, org, gocv.FontHersheySimplex, 0.5, labelColor, 1)
	}
	return out
}
