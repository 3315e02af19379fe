package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"layer-monitor/internal/capture"
	"layer-monitor/internal/classifier"
	"layer-monitor/internal/defect"
	"layer-monitor/internal/hardware"
	"layer-monitor/internal/mask"
	"layer-monitor/internal/report"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// ErrStopped is returned when Run is called on a stopped loop.
var ErrStopped = errors.New("monitor: loop stopped")

// Options tunes the loop. StartLayer is used as given, so layer 0 is a
// valid start; DefaultOptions starts at layer 1.
type Options struct {
	StartLayer      int
	PollInterval    time.Duration
	LightSettle     time.Duration
	Masking         bool
	Alpha           float64
	ClassifyTimeout time.Duration // 0 for none
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		StartLayer:   1,
		PollInterval: 10 * time.Millisecond,
		LightSettle:  500 * time.Millisecond,
		Masking:      true,
		Alpha:        mask.DefaultAlpha,
	}
}

// Deps are the loop's collaborators. Archive, Masks and Persister may be nil.
type Deps struct {
	Board      hardware.Signals
	Light      hardware.Illuminator
	Camera     capture.Camera
	Archive    *capture.Archive
	Masks      MaskSource
	Classifier defect.Classifier
	Engine     *defect.Engine
	Persister  *report.Persister
	Sinks      []Sink
}

// Loop polls the machine for capture requests and inspects one layer per
// request. It never has more than one layer in flight.
type Loop struct {
	deps Deps
	opts Options
	log  logrus.FieldLogger

	mu     sync.Mutex
	state  State
	closed bool
}

// New creates an idle loop.
func New(deps Deps, opts Options, log logrus.FieldLogger) *Loop {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	return &Loop{
		deps:  deps,
		opts:  opts,
		log:   log.WithField("component", "monitor"),
		state: State{Layer: opts.StartLayer, Phase: PhaseIdle},
	}
}

// Snapshot returns a copy of the current state.
func (l *Loop) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.state
	s.Summaries = append([]defect.LayerSummary(nil), l.state.Summaries...)
	return s
}

// Layer returns the layer expected under the camera next.
func (l *Loop) Layer() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Layer
}

// Phase returns the lifecycle stage.
func (l *Loop) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Phase
}

func (l *Loop) setPhase(p Phase) {
	l.mu.Lock()
	prev := l.state.Phase
	l.state.Phase = p
	l.mu.Unlock()
	if prev != p {
		l.log.WithField("from", prev).WithField("to", p).Debug("phase change")
	}
}

// Run polls until the machine requests exit, ctx is cancelled, or a layer
// fails. The loop is Stopped when Run returns.
func (l *Loop) Run(ctx context.Context) error {
	if l.Phase() == PhaseStopped {
		return ErrStopped
	}
	l.setPhase(PhaseRunning)
	defer l.setPhase(PhaseStopped)

	l.log.WithField("layer", l.Layer()).Info("monitoring started")

	for {
		exit, err := l.Step(ctx)
		if err != nil {
			l.log.WithError(err).Error("monitoring stopped on error")
			return err
		}
		if exit {
			l.log.Info("exit requested")
			return nil
		}

		select {
		case <-ctx.Done():
			l.log.Info("monitoring cancelled")
			return nil
		case <-time.After(l.opts.PollInterval):
		}
	}
}

// Step runs one poll iteration: inspect a layer if a capture was requested,
// then report whether exit was requested.
func (l *Loop) Step(ctx context.Context) (bool, error) {
	if l.deps.Board.ShouldCapture() {
		if err := l.ProcessLayer(ctx); err != nil {
			return false, err
		}
	}
	return l.deps.Board.ShouldExit(), nil
}

// ProcessLayer captures, masks, classifies and records the current layer,
// then raises the correction signal the decision calls for.
func (l *Loop) ProcessLayer(ctx context.Context) error {
	layer := l.Layer()
	log := l.log.WithField("layer", layer)

	frame, err := l.acquire(ctx)
	if err != nil {
		return fmt.Errorf("layer %d: %w", layer, err)
	}
	defer frame.Close()

	captureRef := filepath.Base(frame.Path)
	var stamp string
	if l.deps.Archive != nil {
		stamp = l.deps.Archive.Stamp()
		if path, err := l.deps.Archive.WriteRaw(stamp, frame.Mat); err != nil {
			log.WithError(err).Warn("raw frame not archived")
		} else {
			captureRef = filepath.Base(path)
		}
	}

	masked, err := l.applyMask(layer, frame.Mat)
	if err != nil {
		return fmt.Errorf("layer %d: %w", layer, err)
	}
	defer masked.Close()

	if l.deps.Archive != nil {
		if _, err := l.deps.Archive.WriteMasked(stamp, masked); err != nil {
			log.WithError(err).Warn("masked frame not archived")
		}
	}

	dets, err := l.classify(ctx, masked)
	if err != nil {
		return fmt.Errorf("layer %d: %w", layer, err)
	}

	if l.deps.Archive != nil {
		if _, err := l.deps.Archive.WritePredictions(stamp, masked, dets); err != nil {
			log.WithError(err).Warn("predictions image not archived")
		}
	}

	d := l.deps.Engine.Decide(dets, layer, captureRef)
	switch {
	case d.Planarize:
		if err := l.deps.Board.SignalPlanarize(); err != nil {
			log.WithError(err).Warn("planarize signal failed")
		}
	case d.Rework:
		if err := l.deps.Board.SignalRework(); err != nil {
			log.WithError(err).Warn("rework signal failed")
		}
	}

	l.mu.Lock()
	if d.Advance {
		l.state.Layer++
	}
	l.state.Summaries = append(l.state.Summaries, d.Summary)
	l.mu.Unlock()

	entry := log.WithFields(logrus.Fields{
		"defects": d.Summary.Total,
		"over":    d.Summary.Overextrusions,
		"under":   d.Summary.Underextrusions,
		"outcome": d.Outcome,
	})
	if d.Outcome == defect.OutcomeUndecided {
		entry.Warn("defects found but no correction applies, layer will be inspected again")
	} else {
		entry.Info(d.Summary.Decision)
	}

	for _, s := range l.deps.Sinks {
		if err := s.Record(ctx, d.Summary); err != nil {
			log.WithError(err).Warn("sink rejected summary")
		}
	}
	return nil
}

// acquire captures a frame with the light on. The light is switched off
// again whatever the capture outcome.
func (l *Loop) acquire(ctx context.Context) (*capture.Frame, error) {
	lit := time.Now()
	if l.deps.Light != nil {
		if err := l.deps.Light.SetOn(true); err != nil {
			l.log.WithError(err).Warn("light on failed")
		}
		defer func() {
			if err := l.deps.Light.SetOn(false); err != nil {
				l.log.WithError(err).Warn("light off failed")
			}
		}()
	}

	if l.opts.LightSettle > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", capture.ErrCapture, ctx.Err())
		case <-time.After(l.opts.LightSettle):
		}
	}

	frame, err := l.deps.Camera.Capture(ctx, lit)
	if err != nil {
		if !errors.Is(err, capture.ErrCapture) {
			err = fmt.Errorf("%w: %w", capture.ErrCapture, err)
		}
		return nil, err
	}
	return frame, nil
}

// applyMask returns a new Mat; without a mask for layer the frame is
// passed through unchanged.
func (l *Loop) applyMask(layer int, img gocv.Mat) (gocv.Mat, error) {
	var m *mask.LayerMask
	if l.opts.Masking && l.deps.Masks != nil {
		if lm, ok := l.deps.Masks.Get(layer); ok {
			m = lm
		} else {
			l.log.WithField("layer", layer).Debug("no mask for layer, passing frame through")
		}
	}
	return mask.Apply(img, m, l.opts.Alpha)
}

func (l *Loop) classify(ctx context.Context, img gocv.Mat) ([]defect.Detection, error) {
	if l.opts.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.ClassifyTimeout)
		defer cancel()
	}
	dets, err := l.deps.Classifier.Classify(ctx, img)
	if err != nil {
		if !errors.Is(err, classifier.ErrClassifier) {
			err = fmt.Errorf("%w: %w", classifier.ErrClassifier, err)
		}
		return nil, err
	}
	return dets, nil
}

// Close stops the loop, releases the hardware, persists the job log and
// closes every sink. Only the first call has any effect.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.state.Phase = PhaseStopped
	summaries := append([]defect.LayerSummary(nil), l.state.Summaries...)
	l.mu.Unlock()

	var errs []error
	if l.deps.Board != nil {
		if err := l.deps.Board.Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("board cleanup: %w", err))
		}
	}
	if l.deps.Light != nil {
		if err := l.deps.Light.Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("light cleanup: %w", err))
		}
	}
	if l.deps.Persister != nil {
		if err := l.deps.Persister.Save(summaries); err != nil {
			errs = append(errs, err)
		} else {
			l.log.WithField("path", l.deps.Persister.Path()).
				WithField("layers", len(summaries)).Info("defect log saved")
		}
	}
	for _, s := range l.deps.Sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
