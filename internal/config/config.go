// Package config loads the monitor configuration from YAML, .env and
// LM_* environment variables, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the full monitor configuration.
type Config struct {
	PartName    string           `yaml:"part_name"`
	OutputPath  string           `yaml:"output_path"`
	GcodeFile   string           `yaml:"gcode_file"`
	MaskHandler MaskConfig       `yaml:"mask_handler"`
	Camera      CameraConfig     `yaml:"camera"`
	Classifier  ClassifierConfig `yaml:"classifier"`
	Serial      SerialConfig     `yaml:"serial"`
	Monitor     MonitorConfig    `yaml:"monitor"`
	Store       StoreConfig      `yaml:"store"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	Feed        FeedConfig       `yaml:"feed"`
	Log         LogConfig        `yaml:"log"`
}

// MaskConfig describes the camera raster and the deposited line width.
type MaskConfig struct {
	ImageWidth  int     `yaml:"image_width"`
	ImageHeight int     `yaml:"image_height"`
	PixPerMM    float64 `yaml:"pix_per_mm"`
	Thickness   float64 `yaml:"thickness"` // mm
	Alpha       float64 `yaml:"alpha"`
}

type CameraConfig struct {
	FramesDir   string        `yaml:"frames_dir"`
	LightSettle time.Duration `yaml:"light_settle"`
	FrameWait   time.Duration `yaml:"frame_wait"` // how long to wait for the acquisition tool
	Masking     bool          `yaml:"masking"`
}

type ClassifierConfig struct {
	Addr                  string        `yaml:"addr"`
	Timeout               time.Duration `yaml:"timeout"` // 0 disables the deadline
	Confidence            float64       `yaml:"confidence"`
	ImageSize             int           `yaml:"image_size"`
	CorrectionEnabled     bool          `yaml:"correction_enabled"`
	RemoveUnderextrusions bool          `yaml:"remove_underextrusions"`
}

// SerialConfig selects the hardware bridge. An empty device runs the
// virtual board.
type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type MonitorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// StoreConfig enables the SQLite job store when SQLitePath is set.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// KafkaConfig enables summary publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// FeedConfig enables the WebSocket feed when Addr is set.
type FeedConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"` // logrus level, or "off"/"none"
	Dir   string `yaml:"dir"`   // daily log files, empty for stdout only
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		PartName:   "part",
		OutputPath: "rootdir",
		MaskHandler: MaskConfig{
			ImageWidth:  5472,
			ImageHeight: 3648,
			PixPerMM:    56,
			Thickness:   1.3,
			Alpha:       0.1,
		},
		Camera: CameraConfig{
			FramesDir:   "frames",
			LightSettle: 500 * time.Millisecond,
			FrameWait:   2 * time.Second,
			Masking:     true,
		},
		Classifier: ClassifierConfig{
			Addr:                  "localhost:50051",
			Confidence:            0.85,
			ImageSize:             2048,
			CorrectionEnabled:     true,
			RemoveUnderextrusions: true,
		},
		Serial: SerialConfig{
			Baud: 9600,
		},
		Monitor: MonitorConfig{
			PollInterval: 10 * time.Millisecond,
		},
		Kafka: KafkaConfig{
			Topic: "layer_summaries",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then .env, then LM_* variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.PartName = getEnv("LM_PART_NAME", cfg.PartName)
	cfg.OutputPath = getEnv("LM_OUTPUT_PATH", cfg.OutputPath)
	cfg.GcodeFile = getEnv("LM_GCODE_FILE", cfg.GcodeFile)

	cfg.MaskHandler.ImageWidth = getEnvAsInt("LM_IMAGE_WIDTH", cfg.MaskHandler.ImageWidth)
	cfg.MaskHandler.ImageHeight = getEnvAsInt("LM_IMAGE_HEIGHT", cfg.MaskHandler.ImageHeight)
	cfg.MaskHandler.PixPerMM = getEnvAsFloat("LM_PIX_PER_MM", cfg.MaskHandler.PixPerMM)
	cfg.MaskHandler.Thickness = getEnvAsFloat("LM_THICKNESS", cfg.MaskHandler.Thickness)

	cfg.Camera.FramesDir = getEnv("LM_FRAMES_DIR", cfg.Camera.FramesDir)
	cfg.Camera.FrameWait = getEnvAsDuration("LM_FRAME_WAIT", cfg.Camera.FrameWait)
	cfg.Camera.Masking = getEnvAsBool("LM_MASKING", cfg.Camera.Masking)

	cfg.Classifier.Addr = getEnv("LM_CLASSIFIER_ADDR", cfg.Classifier.Addr)
	cfg.Classifier.Timeout = getEnvAsDuration("LM_CLASSIFIER_TIMEOUT", cfg.Classifier.Timeout)
	cfg.Classifier.Confidence = getEnvAsFloat("LM_CONFIDENCE", cfg.Classifier.Confidence)
	cfg.Classifier.CorrectionEnabled = getEnvAsBool("LM_CORRECTION_ENABLED", cfg.Classifier.CorrectionEnabled)
	cfg.Classifier.RemoveUnderextrusions = getEnvAsBool("LM_REMOVE_UNDEREXTRUSIONS", cfg.Classifier.RemoveUnderextrusions)

	cfg.Serial.Device = getEnv("LM_SERIAL_DEVICE", cfg.Serial.Device)
	cfg.Serial.Baud = getEnvAsInt("LM_SERIAL_BAUD", cfg.Serial.Baud)

	cfg.Monitor.PollInterval = getEnvAsDuration("LM_POLL_INTERVAL", cfg.Monitor.PollInterval)
	cfg.Store.SQLitePath = getEnv("LM_SQLITE_PATH", cfg.Store.SQLitePath)

	if brokers := getEnv("LM_KAFKA_BROKERS", ""); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.Topic = getEnv("LM_KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Feed.Addr = getEnv("LM_FEED_ADDR", cfg.Feed.Addr)

	cfg.Log.Level = getEnv("LM_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Dir = getEnv("LM_LOG_DIR", cfg.Log.Dir)
}

// Validate checks the values the monitor cannot run without.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.PartName != "", "part_name is required")
	check(c.GcodeFile != "", "gcode_file is required")
	check(c.MaskHandler.ImageWidth > 0 && c.MaskHandler.ImageHeight > 0,
		"mask_handler image size must be positive, got %dx%d", c.MaskHandler.ImageWidth, c.MaskHandler.ImageHeight)
	check(c.MaskHandler.PixPerMM > 0, "mask_handler.pix_per_mm must be positive")
	check(c.MaskHandler.Thickness > 0, "mask_handler.thickness must be positive")
	check(c.MaskHandler.Alpha >= 0 && c.MaskHandler.Alpha <= 1, "mask_handler.alpha must be in [0,1]")
	check(c.Camera.LightSettle >= 0, "camera.light_settle must not be negative")
	check(c.Camera.FrameWait >= 0, "camera.frame_wait must not be negative")
	check(c.Classifier.Addr != "", "classifier.addr is required")
	check(c.Classifier.Confidence >= 0 && c.Classifier.Confidence <= 1, "classifier.confidence must be in [0,1]")
	check(c.Classifier.Timeout >= 0, "classifier.timeout must not be negative")
	check(c.Monitor.PollInterval > 0, "monitor.poll_interval must be positive")
	check(len(c.Kafka.Brokers) == 0 || c.Kafka.Topic != "", "kafka.topic is required with brokers")

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(name string, defaultValue int) int {
	valueStr := getEnv(name, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(name string, defaultValue float64) float64 {
	valueStr := getEnv(name, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	val, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return val
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
