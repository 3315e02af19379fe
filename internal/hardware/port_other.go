//go:build !linux

package hardware

import (
	"errors"
	"fmt"
	"io"
	"runtime"
)

func openPort(device string, baud int) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("serial: %s unsupported on %s", device, runtime.GOOS)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, errors.ErrUnsupported)
}
