package hardware

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultBaud is the bridge firmware's line speed.
const DefaultBaud = 9600

// Bytes sent by the bridge.
const (
	inCapture = 'C'
	inExit    = 'X'
)

// Lines written to the bridge.
const (
	outPlanarize = "P\n"
	outRework    = "R\n"
	outLightOn   = "L1\n"
	outLightOff  = "L0\n"
	outReset     = "Z\n"
)

// SerialBoard talks to the microcontroller bridging the machine's digital
// I/O and the ring light. Inbound requests are latched until read.
type SerialBoard struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	log     logrus.FieldLogger
	buf     []byte
	capture bool
	exit    bool
	closed  bool
}

var (
	_ Signals     = (*SerialBoard)(nil)
	_ Illuminator = (*SerialBoard)(nil)
)

// OpenSerial opens device in raw 8N1 mode and resets the bridge outputs.
func OpenSerial(device string, baud int, log logrus.FieldLogger) (*SerialBoard, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	port, err := openPort(device, baud)
	if err != nil {
		return nil, err
	}
	b, err := NewSerialBoard(port, log)
	if err != nil {
		port.Close()
		return nil, err
	}
	log.WithField("device", device).WithField("baud", baud).Info("serial board connected")
	return b, nil
}

// NewSerialBoard wraps an open port. Reads from port must not block when no
// data is pending.
func NewSerialBoard(port io.ReadWriteCloser, log logrus.FieldLogger) (*SerialBoard, error) {
	b := &SerialBoard{
		port: port,
		log:  log.WithField("component", "serial"),
		buf:  make([]byte, 64),
	}
	if _, err := io.WriteString(port, outReset); err != nil {
		return nil, fmt.Errorf("serial: reset outputs: %w", err)
	}
	return b, nil
}

// poll drains pending input. Caller holds mu.
func (b *SerialBoard) poll() {
	if b.closed {
		return
	}
	for {
		n, err := b.port.Read(b.buf)
		for _, c := range b.buf[:n] {
			switch c {
			case inCapture:
				b.capture = true
			case inExit:
				b.exit = true
			case '\r', '\n':
			default:
				b.log.WithField("byte", c).Debug("ignoring unknown input")
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !isWouldBlock(err) {
				b.log.WithError(err).Warn("serial read failed")
			}
			return
		}
		if n < len(b.buf) {
			return
		}
	}
}

func (b *SerialBoard) ShouldCapture() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.poll()
	v := b.capture
	b.capture = false
	return v
}

func (b *SerialBoard) ShouldExit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.poll()
	return b.exit
}

func (b *SerialBoard) SignalPlanarize() error { return b.send(outPlanarize) }

func (b *SerialBoard) SignalRework() error { return b.send(outRework) }

func (b *SerialBoard) SetOn(on bool) error {
	if on {
		return b.send(outLightOn)
	}
	return b.send(outLightOff)
}

func (b *SerialBoard) send(line string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, err := io.WriteString(b.port, line); err != nil {
		return fmt.Errorf("serial: write %q: %w", line[:len(line)-1], err)
	}
	return nil
}

// Cleanup turns the light off, resets the outputs and closes the port.
// Calling it again is a no-op.
func (b *SerialBoard) Cleanup() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	_, err := io.WriteString(b.port, outLightOff+outReset)
	return errors.Join(err, b.port.Close())
}
