package capture

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"layer-monitor/internal/defect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"golang.org/x/image/bmp"
)

func writeBMP(t *testing.T, path string, v uint8, mod time.Time) {
	t.Helper()
	require.NoError(t, encodeBMP(path, v))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

// encodeBMP writes a uniform 6x4 frame, renaming it into place so a
// scanning Directory never sees a partial file.
func encodeBMP(path string, v uint8) error {
	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := bmp.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func TestDirectoryDeliversOldestFirstOnce(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeBMP(t, filepath.Join(dir, "b.bmp"), 20, base.Add(2*time.Second))
	writeBMP(t, filepath.Join(dir, "a.bmp"), 10, base.Add(time.Second))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	cam := NewDirectory(dir, 0)
	ctx := context.Background()

	f1, err := cam.Capture(ctx, time.Time{})
	require.NoError(t, err)
	defer f1.Close()
	assert.Equal(t, "a.bmp", filepath.Base(f1.Path))
	assert.Equal(t, 1, f1.Mat.Channels())
	assert.Equal(t, 6, f1.Mat.Cols())
	assert.Equal(t, 4, f1.Mat.Rows())
	assert.Equal(t, uint8(10), f1.Mat.GetUCharAt(0, 0))

	f2, err := cam.Capture(ctx, time.Time{})
	require.NoError(t, err)
	defer f2.Close()
	assert.Equal(t, "b.bmp", filepath.Base(f2.Path))

	_, err = cam.Capture(ctx, time.Time{})
	assert.ErrorIs(t, err, ErrCapture)
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestDirectorySkipsFramesBeforeLight(t *testing.T) {
	dir := t.TempDir()
	lit := time.Now()
	writeBMP(t, filepath.Join(dir, "stale.bmp"), 10, lit.Add(-time.Minute))
	writeBMP(t, filepath.Join(dir, "fresh.bmp"), 20, lit.Add(time.Second))

	cam := NewDirectory(dir, 0)
	f, err := cam.Capture(context.Background(), lit)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "fresh.bmp", filepath.Base(f.Path))

	_, err = cam.Capture(context.Background(), lit)
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestDirectoryWaitsForLateFrame(t *testing.T) {
	dir := t.TempDir()
	lit := time.Now().Add(-time.Second)

	written := make(chan error, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		written <- encodeBMP(filepath.Join(dir, "late.bmp"), 30)
	}()

	f, err := NewDirectory(dir, 5*time.Second).Capture(context.Background(), lit)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, <-written)
	assert.Equal(t, "late.bmp", filepath.Base(f.Path))
	assert.Equal(t, uint8(30), f.Mat.GetUCharAt(0, 0))
}

func TestDirectoryWaitExpires(t *testing.T) {
	start := time.Now()
	_, err := NewDirectory(t.TempDir(), 60*time.Millisecond).Capture(context.Background(), start)
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestDirectoryMissingFolder(t *testing.T) {
	cam := NewDirectory(filepath.Join(t.TempDir(), "nope"), time.Second)
	_, err := cam.Capture(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrCapture)
	assert.NotErrorIs(t, err, ErrNoFrame)
}

func TestDirectoryUndecodableFrame(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.bmp"), []byte("not a bitmap"), 0o644))

	_, err := NewDirectory(dir, 0).Capture(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrCapture)
}

func TestDirectoryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDirectory(t.TempDir(), time.Second).Capture(ctx, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadGrayPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.png")
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.SetGray(2, 1, color.Gray{Y: 77})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	m, err := LoadGray(path)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, uint8(77), m.GetUCharAt(1, 2))
	assert.Equal(t, uint8(0), m.GetUCharAt(0, 0))
}

func TestArchiveNamesAndWrites(t *testing.T) {
	root := t.TempDir()
	a := NewArchive(root)
	a.now = func() time.Time { return time.Date(2024, 3, 7, 14, 5, 9, 0, time.UTC) }

	stamp := a.Stamp()
	assert.Equal(t, "07_03_24_14_05_09", stamp)

	m := gocv.Zeros(4, 4, gocv.MatTypeCV8U)
	defer m.Close()

	raw, err := a.WriteRaw(stamp, m)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Camera", "image_07_03_24_14_05_09.bmp"), raw)
	assert.FileExists(t, raw)

	masked, err := a.WriteMasked(stamp, m)
	require.NoError(t, err)
	assert.Equal(t, "mask_image_07_03_24_14_05_09.bmp", filepath.Base(masked))
	assert.FileExists(t, masked)
}

func TestArchiveRejectsEmpty(t *testing.T) {
	a := NewArchive(t.TempDir())
	empty := gocv.NewMat()
	defer empty.Close()
	_, err := a.WriteRaw("x", empty)
	assert.Error(t, err)
}

func TestAnnotateDrawsBoxes(t *testing.T) {
	img := gocv.Zeros(30, 40, gocv.MatTypeCV8U)
	defer img.Close()
	det := defect.NewDetection(defect.Overextrusion, 0.912, 5, 8, 20, 25)

	out := Annotate(img, []defect.Detection{det})
	defer out.Close()
	require.Equal(t, 3, out.Channels())

	px := out.ToBytes()
	at := func(row, col int) []byte {
		i := (row*out.Cols() + col) * 3
		return px[i : i+3]
	}
	assert.Equal(t, []byte{0, 0, 255}, at(8, 12), "top edge is red in BGR order")
	assert.Equal(t, []byte{0, 0, 255}, at(16, 5), "left edge is red")
	assert.Equal(t, []byte{0, 0, 0}, at(16, 12), "box interior untouched")
	assert.Zero(t, img.GetUCharAt(8, 12), "source frame not modified")
}

func TestArchiveWritesPredictions(t *testing.T) {
	root := t.TempDir()
	a := NewArchive(root)
	a.now = func() time.Time { return time.Date(2024, 3, 7, 14, 5, 9, 0, time.UTC) }

	img := gocv.Zeros(30, 40, gocv.MatTypeCV8U)
	defer img.Close()
	dets := []defect.Detection{defect.NewDetection(defect.Underextrusion, 0.88, 10, 10, 30, 20)}

	path, err := a.WritePredictions(a.Stamp(), img, dets)
	require.NoError(t, err)
	assert.Equal(t, "image_07_03_24_14_05_09_predictions.jpeg", filepath.Base(path))
	require.FileExists(t, path)

	saved := gocv.IMRead(path, gocv.IMReadColor)
	defer saved.Close()
	require.False(t, saved.Empty())
	assert.Equal(t, 40, saved.Cols())
	edge := saved.GetVecbAt(10, 20)
	assert.Greater(t, int(edge[2]), 50, "box edge survives JPEG encoding")
	assert.Greater(t, int(edge[2]), int(edge[0]))

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = a.WritePredictions("x", empty, nil)
	assert.Error(t, err)
}
