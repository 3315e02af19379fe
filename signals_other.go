//go:build !unix

package main

import (
	"context"

	"layer-monitor/internal/hardware"

	"github.com/sirupsen/logrus"
)

func watchSignals(_ context.Context, _ *hardware.Virtual, logger *logrus.Logger) {
	logger.Warn("virtual board has no trigger source on this platform")
}
