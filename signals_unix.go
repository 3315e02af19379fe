//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"layer-monitor/internal/hardware"

	"github.com/sirupsen/logrus"
)

// watchSignals drives a virtual board from the shell: SIGUSR1 requests a
// capture, SIGUSR2 requests exit.
func watchSignals(ctx context.Context, v *hardware.Virtual, logger *logrus.Logger) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2)
	logger.WithField("pid", os.Getpid()).Info("send SIGUSR1 to capture, SIGUSR2 to exit")

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				if sig == syscall.SIGUSR1 {
					v.RequestCapture()
				} else {
					v.RequestExit()
				}
			}
		}
	}()
}
