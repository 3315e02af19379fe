// Command maskpreview renders the inspection mask of every layer of a G-code
// file to BMP so the mask scale and alignment can be checked against camera
// frames.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"layer-monitor/internal/capture"
	"layer-monitor/internal/config"
	"layer-monitor/internal/mask"
	"layer-monitor/internal/toolpath"
	"layer-monitor/pkg/geometry"

	"gocv.io/x/gocv"
)

func main() {
	gcodePath := flag.String("gcode", "", "Path to G-code file")
	outDir := flag.String("out", "masks", "Output directory")
	configPath := flag.String("config", "", "Optional YAML config for mask_handler settings")
	layer := flag.Int("layer", 0, "Render only this layer (0 = all)")
	overlay := flag.String("overlay", "", "Optional camera frame to apply the mask to")
	flag.Parse()

	if *gcodePath == "" {
		fmt.Println("Usage: maskpreview -gcode <file> [-out masks] [-config config.yaml] [-layer N] [-overlay frame.bmp]")
		os.Exit(1)
	}

	mh := config.Default().MaskHandler
	if *configPath != "" {
		os.Setenv("LM_GCODE_FILE", *gcodePath)
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		mh = cfg.MaskHandler
	}

	tp, err := toolpath.ParseFile(*gcodePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse G-code: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Parsed %d moves in %d layers\n", tp.MoveCount(), tp.Len())
	fmt.Printf("Raster: %dx%d px, %.2f px/mm, line %.2f mm\n",
		mh.ImageWidth, mh.ImageHeight, mh.PixPerMM, mh.Thickness)

	tf := mask.NewTransformer(mh.PixPerMM, mh.ImageWidth, mh.ImageHeight)
	cache := mask.NewCache(mask.NewBuilder(tf), mh.Thickness)
	if err := cache.Build(tp); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build masks: %v\n", err)
		os.Exit(1)
	}
	defer cache.Close()

	var frame gocv.Mat
	if *overlay != "" {
		frame, err = capture.LoadGray(*overlay)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load overlay: %v\n", err)
			os.Exit(1)
		}
		defer frame.Close()
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output dir: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n%-8s %12s %10s %18s  %s\n", "Layer", "Area (px)", "Coverage", "Extent (mm)", "File")
	total := mh.ImageWidth * mh.ImageHeight
	written := 0
	for _, l := range cache.Layers() {
		if *layer != 0 && l != *layer {
			continue
		}
		m, _ := cache.Get(l)

		path := filepath.Join(*outDir, fmt.Sprintf("layer_%04d.bmp", l))
		if !gocv.IMWrite(path, m.Mat) {
			fmt.Fprintf(os.Stderr, "Failed to write %s\n", path)
			os.Exit(1)
		}

		if *overlay != "" {
			applied, err := mask.Apply(frame, m, mh.Alpha)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Layer %d overlay: %v\n", l, err)
				os.Exit(1)
			}
			gocv.IMWrite(filepath.Join(*outDir, fmt.Sprintf("layer_%04d_applied.bmp", l)), applied)
			applied.Close()
		}

		area := m.Area()
		extent := geometry.BoundingBox(mask.ReconstructPath(tp.Layer(l)))
		fmt.Printf("%-8d %12d %9.2f%% %8.1f x %-7.1f  %s\n", l, area, 100*float64(area)/float64(total),
			extent.Width, extent.Height, filepath.Base(path))
		written++
	}

	skipped := len(tp.Layers()) - cache.Len()
	fmt.Printf("\nWrote %d masks to %s (%d layers without print moves skipped)\n", written, *outDir, skipped)
}
