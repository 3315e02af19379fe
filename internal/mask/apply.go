package mask

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// DefaultAlpha is the weight of the image inside the mask blend.
const DefaultAlpha = 0.1

// ErrSizeMismatch is returned when an image and its mask differ in size.
var ErrSizeMismatch = errors.New("image and mask size differ")

// Apply restricts img to the region selected by m. A nil mask returns an
// unmodified copy of img.
//
// The image is min-max normalised to 0..254, pixels inside the mask are
// blended toward white with weight alpha, and the blend is subtracted from
// the normalised image with 8-bit wrap-around. Pixels outside the mask
// become zero. The caller owns the returned Mat.
func Apply(img gocv.Mat, m *LayerMask, alpha float64) (gocv.Mat, error) {
	if m == nil {
		return img.Clone(), nil
	}
	if img.Rows() != m.Mat.Rows() || img.Cols() != m.Mat.Cols() {
		return gocv.NewMat(), fmt.Errorf("%w: image %dx%d, mask %dx%d",
			ErrSizeMismatch, img.Cols(), img.Rows(), m.Mat.Cols(), m.Mat.Rows())
	}

	gray := toGray(img)
	defer gray.Close()

	norm := normalize8(gray)
	defer norm.Close()

	blend := gocv.NewMat()
	defer blend.Close()
	gocv.AddWeighted(norm, alpha, m.Mat, 1-alpha, 0, &blend)

	src := norm.ToBytes()
	mix := blend.ToBytes()
	sel := m.Mat.ToBytes()
	if len(src) != len(sel) || len(mix) != len(sel) {
		return gocv.NewMat(), fmt.Errorf("apply mask: unsupported image type %v with %d channels", img.Type(), img.Channels())
	}

	out := make([]byte, len(src))
	for i := range src {
		if sel[i] != 0 {
			out[i] = src[i] - mix[i]
		}
	}
	return gocv.NewMatFromBytes(norm.Rows(), norm.Cols(), gocv.MatTypeCV8U, out)
}

// normalize8 min-max scales img to 0..254 in an 8-bit Mat, whatever the
// input depth.
func normalize8(img gocv.Mat) gocv.Mat {
	norm := gocv.NewMat()
	gocv.Normalize(img, &norm, 0, 254, gocv.NormMinMax)
	if norm.Type() == gocv.MatTypeCV8U {
		return norm
	}
	defer norm.Close()
	out := gocv.NewMat()
	norm.ConvertTo(&out, gocv.MatTypeCV8U)
	return out
}

// toGray returns a single-channel copy of img.
func toGray(img gocv.Mat) gocv.Mat {
	switch img.Channels() {
	case 3:
		gray := gocv.NewMat()
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
		return gray
	case 4:
		gray := gocv.NewMat()
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
		return gray
	default:
		return img.Clone()
	}
}
