package main

import (
	"testing"
	"time"

	"layer-monitor/internal/classifier"
	"layer-monitor/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestClassifierOptions(t *testing.T) {
	defaults := classifier.DefaultOptions()

	assert.Equal(t, defaults, classifierOptions(config.ClassifierConfig{}))

	opts := classifierOptions(config.ClassifierConfig{Confidence: 0.6, ImageSize: 1024, Timeout: 3 * time.Second})
	assert.Equal(t, 0.6, opts.Confidence)
	assert.Equal(t, 1024, opts.ImageSize)
	assert.Equal(t, 3*time.Second, opts.Timeout)

	cfg := config.Default().Classifier
	assert.Equal(t, defaults, classifierOptions(cfg), "config defaults match the detector defaults")
}
