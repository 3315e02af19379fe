package mask

import (
	"layer-monitor/internal/toolpath"
	"layer-monitor/pkg/geometry"
)

// anchorState tracks the pen-down anchor between travel and print moves.
// The zero value is NoAnchor.
type anchorState struct {
	pending bool
	point   geometry.Point2D
}

// next applies one move and returns the points it contributes to the path.
func (s anchorState) next(m toolpath.Move) (anchorState, []geometry.Point2D) {
	p := geometry.NewPoint2D(m.Pos.X, m.Pos.Y)
	switch m.Type {
	case toolpath.Travel:
		return anchorState{pending: true, point: p}, nil
	case toolpath.Print:
		if s.pending {
			return anchorState{}, []geometry.Point2D{s.point, p}
		}
		return anchorState{}, []geometry.Point2D{p}
	}
	return s, nil
}

// ReconstructPath returns the printed polyline of one layer: each run of
// print moves is preceded by the position of the travel move that led
// into it. Travel moves that are not followed by a print move contribute
// nothing.
func ReconstructPath(moves []toolpath.Move) []geometry.Point2D {
	var (
		path []geometry.Point2D
		st   anchorState
		pts  []geometry.Point2D
	)
	for _, m := range moves {
		st, pts = st.next(m)
		path = append(path, pts...)
	}
	return path
}
