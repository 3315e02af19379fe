package defect

import (
	"fmt"
)

// Outcome is the branch of the layer-advancement policy a layer fell into.
type Outcome int

const (
	OutcomeNoDefects Outcome = iota
	OutcomeNoCorrection
	OutcomePlanarize
	OutcomeRework
	// OutcomeUndecided covers defects with correction enabled that are not
	// all overextrusions while underextrusion removal is disabled. No
	// signal is raised and the layer does not advance, so the same layer is
	// inspected again on the next capture.
	OutcomeUndecided
)

var outcomeNames = map[Outcome]string{
	OutcomeNoDefects:    "no_defects",
	OutcomeNoCorrection: "no_correction",
	OutcomePlanarize:    "planarize",
	OutcomeRework:       "rework",
	OutcomeUndecided:    "undecided",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(b []byte) error {
	for k, v := range outcomeNames {
		if v == string(b) {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", string(b))
}

// Decision strings written to the layer log.
const (
	DecisionNoDefects    = "No defects"
	DecisionNoCorrection = "Defects found, no correction"
	DecisionPlanarize    = "Overextrusions, planarize layer"
	DecisionRework       = "Underextrusions, remove and reprint layer"
)

// Decision is the result of evaluating one layer.
type Decision struct {
	Summary   LayerSummary
	Outcome   Outcome
	Advance   bool // move on to the next layer
	Planarize bool
	Rework    bool
}

// Engine applies the layer-advancement policy.
type Engine struct {
	CorrectionEnabled     bool
	RemoveUnderextrusions bool
}

// NewEngine creates an Engine.
func NewEngine(correctionEnabled, removeUnderextrusions bool) *Engine {
	return &Engine{
		CorrectionEnabled:     correctionEnabled,
		RemoveUnderextrusions: removeUnderextrusions,
	}
}

// Decide evaluates the detections of a layer with the engine's settings.
func (e *Engine) Decide(dets []Detection, layer int, captureRef string) Decision {
	d := Evaluate(dets, layer, e.CorrectionEnabled, e.RemoveUnderextrusions)
	d.Summary.CaptureRef = captureRef
	return d
}

// Evaluate applies the policy table in order:
//
//	no detections                          -> advance
//	correction disabled                    -> advance
//	every detection an overextrusion       -> planarize, hold layer
//	underextrusion removal enabled         -> rework, hold layer
//	otherwise                              -> undecided, hold layer
func Evaluate(dets []Detection, layer int, correctionEnabled, removeUnderextrusions bool) Decision {
	sum := summarize(dets, layer)

	var d Decision
	switch {
	case sum.Total == 0:
		d = Decision{Outcome: OutcomeNoDefects, Advance: true}
		sum.Decision = DecisionNoDefects
	case !correctionEnabled:
		d = Decision{Outcome: OutcomeNoCorrection, Advance: true}
		sum.Decision = DecisionNoCorrection
	case sum.Overextrusions == sum.Total:
		d = Decision{Outcome: OutcomePlanarize, Planarize: true}
		sum.Decision = DecisionPlanarize
	case removeUnderextrusions:
		d = Decision{Outcome: OutcomeRework, Rework: true}
		sum.Decision = DecisionRework
	default:
		d = Decision{Outcome: OutcomeUndecided}
	}
	sum.Outcome = d.Outcome
	d.Summary = sum
	return d
}

// summarize counts detections per class. Every class other than
// Overextrusion counts toward Underextrusions.
func summarize(dets []Detection, layer int) LayerSummary {
	sum := LayerSummary{
		Layer:      layer,
		Total:      len(dets),
		Detections: make([]DetectionRecord, 0, len(dets)),
	}
	for _, det := range dets {
		if det.Class == Overextrusion {
			sum.Overextrusions++
		} else {
			sum.Underextrusions++
		}
		sum.Detections = append(sum.Detections, det.Record())
	}
	return sum
}
