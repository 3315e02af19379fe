// Package toolpath parses motion-instruction streams into per-layer moves.
package toolpath

import "fmt"

// Axis identifies one of the tracked machine axes.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	AxisA // extrusion
	AxisB // extrusion
	AxisF // feed
	numAxes
)

var axisLetters = [numAxes]byte{'X', 'Y', 'Z', 'A', 'B', 'F'}

func (a Axis) String() string {
	if a < 0 || a >= numAxes {
		return fmt.Sprintf("Axis(%d)", int(a))
	}
	return string(axisLetters[a])
}

// axisFromLetter maps an instruction letter to its axis.
func axisFromLetter(c byte) (Axis, bool) {
	for i, l := range axisLetters {
		if l == c {
			return Axis(i), true
		}
	}
	return 0, false
}

// AxisSet is a bitmask of axes.
type AxisSet uint8

// Has reports whether the set contains axis a.
func (s AxisSet) Has(a Axis) bool { return s&(1<<uint(a)) != 0 }

// With returns the set with axis a added.
func (s AxisSet) With(a Axis) AxisSet { return s | 1<<uint(a) }

// Position is a fully resolved machine position.
type Position struct {
	X float64 `json:"X"`
	Y float64 `json:"Y"`
	Z float64 `json:"Z"`
	A float64 `json:"A"`
	B float64 `json:"B"`
	F float64 `json:"F"`
}

// Get returns the value of one axis.
func (p Position) Get(a Axis) float64 {
	switch a {
	case AxisX:
		return p.X
	case AxisY:
		return p.Y
	case AxisZ:
		return p.Z
	case AxisA:
		return p.A
	case AxisB:
		return p.B
	case AxisF:
		return p.F
	}
	return 0
}

// Set returns a copy of p with axis a replaced by v.
func (p Position) Set(a Axis, v float64) Position {
	switch a {
	case AxisX:
		p.X = v
	case AxisY:
		p.Y = v
	case AxisZ:
		p.Z = v
	case AxisA:
		p.A = v
	case AxisB:
		p.B = v
	case AxisF:
		p.F = v
	}
	return p
}

// MaterialSystem is the deposition system selected for subsequent moves.
type MaterialSystem int

const (
	SystemUnset MaterialSystem = iota
	SystemPolymer
	SystemCeramic
)

func (m MaterialSystem) String() string {
	switch m {
	case SystemPolymer:
		return "polymer"
	case SystemCeramic:
		return "ceramic"
	default:
		return "unset"
	}
}

// MoveType classifies a move as positioning-only or depositing material.
type MoveType int

const (
	Travel MoveType = iota
	Print
)

func (t MoveType) String() string {
	if t == Print {
		return "print"
	}
	return "travel"
}

// Move is one parsed motion instruction.
type Move struct {
	Pos      Position
	Explicit AxisSet // axes named by the instruction itself
	System   MaterialSystem
	Layer    int
	Type     MoveType
	Line     int
}

// Toolpath maps layer numbers to their moves in parse order.
type Toolpath struct {
	layers map[int][]Move
	order  []int
	moves  []Move
}

func newToolpath() *Toolpath {
	return &Toolpath{layers: make(map[int][]Move)}
}

func (tp *Toolpath) add(m Move) {
	if _, ok := tp.layers[m.Layer]; !ok {
		tp.order = append(tp.order, m.Layer)
	}
	tp.layers[m.Layer] = append(tp.layers[m.Layer], m)
	tp.moves = append(tp.moves, m)
}

// Layer returns the moves of one layer in parse order.
func (tp *Toolpath) Layer(n int) []Move {
	return tp.layers[n]
}

// Layers returns the layer numbers in order of first appearance.
func (tp *Toolpath) Layers() []int {
	out := make([]int, len(tp.order))
	copy(out, tp.order)
	return out
}

// Moves returns every move in parse order.
func (tp *Toolpath) Moves() []Move {
	out := make([]Move, len(tp.moves))
	copy(out, tp.moves)
	return out
}

// FirstLayer returns the first layer that carries moves, or 1 for an
// empty toolpath.
func (tp *Toolpath) FirstLayer() int {
	if len(tp.order) == 0 {
		return 1
	}
	return tp.order[0]
}

// MoveCount returns the number of moves across all layers.
func (tp *Toolpath) MoveCount() int {
	return len(tp.moves)
}

// Len returns the number of layers.
func (tp *Toolpath) Len() int {
	return len(tp.order)
}
