package toolpath

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedAxis is wrapped by every ParseError.
var ErrMalformedAxis = errors.New("malformed axis value")

// ParseError reports an axis token whose value is not a number.
type ParseError struct {
	Line  int
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s %q: %v", e.Line, ErrMalformedAxis, e.Token, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrMalformedAxis, e.Err}
}

var reLayerMarker = regexp.MustCompile(`^;Layer (\d+) of`)

// Op-codes recognised in the first token of a line.
var (
	motionCodes = map[string]bool{"G0": true, "G00": true, "G1": true, "G01": true}
	systemCodes = map[string]MaterialSystem{"G55": SystemPolymer, "G58": SystemCeramic}
)

const maxLineBytes = 1 << 20

// parseState is the accumulator folded over the instruction lines.
type parseState struct {
	pos    Position
	layer  int
	system MaterialSystem
}

func initialState() parseState {
	// Slicer output numbers layers from 1.
	return parseState{layer: 1}
}

// ParseFile parses the instruction file at path.
func ParseFile(path string) (*Toolpath, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open toolpath: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a line-oriented instruction stream and groups its moves by
// layer. Unrecognised lines are skipped; the first malformed axis value
// aborts the parse.
func Parse(r io.Reader) (*Toolpath, error) {
	tp := newToolpath()
	st := initialState()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		next, move, err := step(st, sc.Text(), lineNo)
		if err != nil {
			return nil, err
		}
		if move != nil {
			tp.add(*move)
		}
		st = next
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read toolpath: %w", err)
	}
	return tp, nil
}

// step applies one line to the state and returns the new state plus the
// move it produced, if any.
func step(st parseState, raw string, lineNo int) (parseState, *Move, error) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return st, nil, nil
	}

	if strings.HasPrefix(line, ";Layer") {
		if m := reLayerMarker.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				st.layer = n
			}
		}
		return st, nil, nil
	}

	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return st, nil, nil
	}

	if sys, ok := systemCodes[fields[0]]; ok {
		st.system = sys
		return st, nil, nil
	}
	if !motionCodes[fields[0]] {
		return st, nil, nil
	}

	move, err := parseMove(st, fields[1:], lineNo)
	if err != nil {
		return st, nil, err
	}
	st.pos = move.Pos
	return st, &move, nil
}

// parseMove resolves the axis tokens of a motion instruction against the
// running position.
func parseMove(st parseState, tokens []string, lineNo int) (Move, error) {
	m := Move{
		Pos:    st.pos,
		System: st.system,
		Layer:  st.layer,
		Line:   lineNo,
	}
	for _, tok := range tokens {
		axis, ok := axisFromLetter(tok[0])
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(tok[1:], 64)
		if err != nil {
			return Move{}, &ParseError{Line: lineNo, Token: tok, Err: err}
		}
		m.Pos = m.Pos.Set(axis, v)
		m.Explicit = m.Explicit.With(axis)
	}
	if m.Explicit.Has(AxisA) || m.Explicit.Has(AxisB) {
		m.Type = Print
	}
	return m, nil
}
