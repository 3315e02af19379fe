// Package hardware drives the machine-side signals and the ring light used
// while inspecting layers.
package hardware

import (
	"errors"
	"sync"
)

// ErrClosed is returned when writing to a board after Cleanup.
var ErrClosed = errors.New("hardware: closed")

// Signals is the digital handshake with the machine controller.
// ShouldCapture and ShouldExit never block.
type Signals interface {
	ShouldCapture() bool
	ShouldExit() bool
	SignalPlanarize() error
	SignalRework() error
	Cleanup() error
}

// Illuminator switches the inspection light.
type Illuminator interface {
	SetOn(on bool) error
	Cleanup() error
}

// Virtual is an in-process board for dry runs and tests. Capture requests
// queue up, an exit request stays latched.
type Virtual struct {
	mu         sync.Mutex
	captures   int
	exit       bool
	light      bool
	planarized int
	reworked   int
	closed     bool
}

var (
	_ Signals     = (*Virtual)(nil)
	_ Illuminator = (*Virtual)(nil)
)

// NewVirtual creates an idle virtual board.
func NewVirtual() *Virtual {
	return &Virtual{}
}

// RequestCapture queues one capture trigger.
func (v *Virtual) RequestCapture() {
	v.mu.Lock()
	v.captures++
	v.mu.Unlock()
}

// RequestExit latches the exit signal.
func (v *Virtual) RequestExit() {
	v.mu.Lock()
	v.exit = true
	v.mu.Unlock()
}

func (v *Virtual) ShouldCapture() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.captures == 0 {
		return false
	}
	v.captures--
	return true
}

func (v *Virtual) ShouldExit() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.exit
}

func (v *Virtual) SignalPlanarize() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.planarized++
	return nil
}

func (v *Virtual) SignalRework() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.reworked++
	return nil
}

func (v *Virtual) SetOn(on bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.light = on
	return nil
}

// Cleanup switches the light off and rejects further writes.
func (v *Virtual) Cleanup() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.light = false
	v.closed = true
	return nil
}

// Planarized returns how many planarize signals were raised.
func (v *Virtual) Planarized() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.planarized
}

// Reworked returns how many rework signals were raised.
func (v *Virtual) Reworked() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reworked
}

// LightOn reports the current light state.
func (v *Virtual) LightOn() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.light
}

// Closed reports whether Cleanup has run.
func (v *Virtual) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}
