// Package main runs the layer monitor: it inspects every printed layer for
// extrusion defects and signals the machine when a layer needs correcting.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"layer-monitor/internal/capture"
	"layer-monitor/internal/classifier"
	"layer-monitor/internal/config"
	"layer-monitor/internal/defect"
	"layer-monitor/internal/feed"
	"layer-monitor/internal/hardware"
	"layer-monitor/internal/logging"
	"layer-monitor/internal/mask"
	"layer-monitor/internal/monitor"
	"layer-monitor/internal/report"
	"layer-monitor/internal/toolpath"
	"layer-monitor/internal/version"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration (empty for env only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("layer monitor failed")
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	logger.WithField("version", version.String()).WithField("part", cfg.PartName).Info("starting layer monitor")

	tp, err := toolpath.ParseFile(cfg.GcodeFile)
	if err != nil {
		return fmt.Errorf("parse toolpath: %w", err)
	}
	logger.WithField("moves", tp.MoveCount()).WithField("layers", tp.Len()).Info("toolpath parsed")

	mh := cfg.MaskHandler
	cache := mask.NewCache(mask.NewBuilder(mask.NewTransformer(mh.PixPerMM, mh.ImageWidth, mh.ImageHeight)), mh.Thickness)
	if err := cache.Build(tp); err != nil {
		return err
	}
	defer cache.Close()
	blank := 0
	for _, l := range cache.Layers() {
		if m, _ := cache.Get(l); m.IsBlank() {
			blank++
		}
	}
	logger.WithField("masks", cache.Len()).WithField("blank", blank).Info("layer masks built")

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("home dir: %w", err)
	}
	jobDir := report.JobDir(home, cfg.OutputPath, cfg.PartName, time.Now())
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	board, err := openBoard(ctx, cfg.Serial, logger)
	if err != nil {
		return err
	}

	cls, err := classifier.NewClient(cfg.Classifier.Addr, classifierOptions(cfg.Classifier))
	if err != nil {
		board.Cleanup()
		return err
	}
	defer cls.Close()

	sinks, jobID, err := openSinks(ctx, cfg, logger)
	if err != nil {
		board.Cleanup()
		return err
	}
	camera := capture.NewDirectory(cfg.Camera.FramesDir, cfg.Camera.FrameWait)
	archive := capture.NewArchive(jobDir)
	logger.WithFields(logrus.Fields{
		"job":     jobID,
		"frames":  camera.Dir(),
		"archive": archive.Dir(),
	}).Info("job started")

	loop := monitor.New(monitor.Deps{
		Board:      board,
		Light:      board,
		Camera:     camera,
		Archive:    archive,
		Masks:      cache,
		Classifier: cls,
		Engine:     defect.NewEngine(cfg.Classifier.CorrectionEnabled, cfg.Classifier.RemoveUnderextrusions),
		Persister:  report.NewPersister(jobDir, cfg.PartName),
		Sinks:      sinks,
	}, monitor.Options{
		StartLayer:      tp.FirstLayer(),
		PollInterval:    cfg.Monitor.PollInterval,
		LightSettle:     cfg.Camera.LightSettle,
		Masking:         cfg.Camera.Masking,
		Alpha:           mh.Alpha,
		ClassifyTimeout: cfg.Classifier.Timeout,
	}, logger)

	runErr := loop.Run(ctx)
	st := loop.Snapshot()
	logger.WithField("inspected", len(st.Summaries)).WithField("layer", st.Layer).Info("monitoring finished")
	return errors.Join(runErr, loop.Close())
}

// classifierOptions starts from the detector defaults and applies the
// configured values that are set.
func classifierOptions(cfg config.ClassifierConfig) classifier.Options {
	opts := classifier.DefaultOptions()
	if cfg.Confidence > 0 {
		opts.Confidence = cfg.Confidence
	}
	if cfg.ImageSize > 0 {
		opts.ImageSize = cfg.ImageSize
	}
	opts.Timeout = cfg.Timeout
	return opts
}

// machineBoard is the combined signal and light interface of both hardware
// implementations.
type machineBoard interface {
	hardware.Signals
	hardware.Illuminator
}

func openBoard(ctx context.Context, cfg config.SerialConfig, logger *logrus.Logger) (machineBoard, error) {
	if cfg.Device != "" {
		b, err := hardware.OpenSerial(cfg.Device, cfg.Baud, logger)
		if err != nil {
			return nil, fmt.Errorf("open board: %w", err)
		}
		return b, nil
	}
	v := hardware.NewVirtual()
	watchSignals(ctx, v, logger)
	logger.Warn("no serial device configured, running virtual board")
	return v, nil
}

// openSinks starts the optional summary consumers. The returned job id
// comes from the store when one is configured.
func openSinks(ctx context.Context, cfg *config.Config, logger *logrus.Logger) ([]monitor.Sink, string, error) {
	var sinks []monitor.Sink
	jobID := uuid.New().String()

	if cfg.Store.SQLitePath != "" {
		store, err := report.NewStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, "", fmt.Errorf("open store: %w", err)
		}
		if jobID, err = store.StartJob(ctx, cfg.PartName, cfg.GcodeFile); err != nil {
			store.Close()
			return nil, "", err
		}
		sinks = append(sinks, store)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, report.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, jobID, cfg.PartName))
		logger.WithField("topic", cfg.Kafka.Topic).Info("publishing summaries to kafka")
	}

	if cfg.Feed.Addr != "" {
		hub := feed.NewHub(logger)
		go func() {
			if err := hub.Start(cfg.Feed.Addr); err != nil {
				logger.WithError(err).Error("feed server failed")
			}
		}()
		sinks = append(sinks, hub)
	}

	return sinks, jobID, nil
}
