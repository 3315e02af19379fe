// Package capture provides layer images and archives them alongside their
// masked versions.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

var (
	// ErrCapture wraps every failure to obtain a frame.
	ErrCapture = errors.New("capture")
	// ErrNoFrame reports that the camera had nothing new to deliver.
	ErrNoFrame = errors.New("no frame available")
)

// Frame is one captured layer image.
type Frame struct {
	Mat  gocv.Mat // single-channel 8-bit
	Path string   // source file, empty for in-memory frames
}

// Close releases the frame's pixel buffer.
func (f *Frame) Close() error {
	return f.Mat.Close()
}

// Camera delivers layer images. lit is when the scene was illuminated for
// this capture; frames exposed before it belong to an earlier request.
type Camera interface {
	Capture(ctx context.Context, lit time.Time) (*Frame, error)
}

var frameExts = map[string]bool{
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// framePoll is how often Directory rescans while waiting for a frame.
const framePoll = 20 * time.Millisecond

// Directory is a Camera fed by an external acquisition tool that drops
// image files into a folder. Each file is delivered once, oldest first.
// Files last modified before the light came on are not delivered.
type Directory struct {
	dir  string
	wait time.Duration

	mu   sync.Mutex
	seen map[string]bool
}

var _ Camera = (*Directory)(nil)

// NewDirectory watches dir for new frames. Capture waits up to wait for
// the acquisition tool to write a frame; zero scans the folder once.
func NewDirectory(dir string, wait time.Duration) *Directory {
	return &Directory{dir: dir, wait: wait, seen: make(map[string]bool)}
}

// Dir returns the watched folder.
func (d *Directory) Dir() string { return d.dir }

// Capture decodes the oldest undelivered frame written at or after lit.
// A zero lit accepts every frame.
func (d *Directory) Capture(ctx context.Context, lit time.Time) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	path, err := d.await(ctx, lit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	d.seen[path] = true

	mat, err := LoadGray(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	return &Frame{Mat: mat, Path: path}, nil
}

func (d *Directory) await(ctx context.Context, lit time.Time) (string, error) {
	deadline := time.Now().Add(d.wait)
	for {
		path, err := d.next(lit)
		if !errors.Is(err, ErrNoFrame) || !time.Now().Before(deadline) {
			return path, err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(framePoll):
		}
	}
}

func (d *Directory) next(lit time.Time) (string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return "", fmt.Errorf("read frames dir: %w", err)
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var cands []candidate
	for _, e := range entries {
		if e.IsDir() || !frameExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		path := filepath.Join(d.dir, e.Name())
		if d.seen[path] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().Before(lit) {
			continue
		}
		cands = append(cands, candidate{path: path, mod: info.ModTime()})
	}
	if len(cands) == 0 {
		return "", ErrNoFrame
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].mod.Equal(cands[j].mod) {
			return cands[i].path < cands[j].path
		}
		return cands[i].mod.Before(cands[j].mod)
	})
	return cands[0].path, nil
}

// LoadGray decodes an image file into a single-channel 8-bit Mat.
func LoadGray(path string) (gocv.Mat, error) {
	file, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to decode image %s: %w", filepath.Base(path), err)
	}
	return ImageToGrayMat(img)
}

// ImageToGrayMat converts img to a single-channel 8-bit Mat, converting
// rows in parallel stripes.
func ImageToGrayMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}

	gray, ok := img.(*image.Gray)
	if !ok || gray.Stride != width || bounds.Min != (image.Point{}) {
		gray = image.NewGray(image.Rect(0, 0, width, height))

		numWorkers := runtime.NumCPU()
		rowsPerWorker := (height + numWorkers - 1) / numWorkers

		var wg sync.WaitGroup
		for w := 0; w < numWorkers; w++ {
			startY := w * rowsPerWorker
			endY := min(startY+rowsPerWorker, height)
			if startY >= height {
				break
			}

			wg.Add(1)
			go func(yStart, yEnd int) {
				defer wg.Done()
				dst := gray.SubImage(image.Rect(0, yStart, width, yEnd)).(*image.Gray)
				draw.Draw(dst, dst.Bounds(), img, bounds.Min.Add(image.Pt(0, yStart)), draw.Src)
			}(startY, endY)
		}
		wg.Wait()
	}

	return gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8U, gray.Pix)
}
