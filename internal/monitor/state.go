// Package monitor runs the layer inspection loop.
package monitor

import (
	"context"
	"fmt"

	"layer-monitor/internal/defect"
	"layer-monitor/internal/mask"
)

// Phase is the lifecycle stage of a Loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseStopped // terminal
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is the loop's progress through a job.
type State struct {
	Layer     int // layer expected under the camera next
	Phase     Phase
	Summaries []defect.LayerSummary // inspection order
}

// Sink receives every layer summary as soon as it is produced.
type Sink interface {
	Record(ctx context.Context, sum defect.LayerSummary) error
	Close() error
}

// MaskSource looks up the mask of a layer.
type MaskSource interface {
	Get(layer int) (*mask.LayerMask, bool)
}
