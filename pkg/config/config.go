// Package config provides configuration management for facerange.
// It loads configuration from YAML files with sensible defaults and
// FACERANGE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all facerange configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Gallery     GalleryConfig     `yaml:"gallery"`
	Distance    DistanceConfig    `yaml:"distance"`
	Loop        LoopConfig        `yaml:"loop"`
	Display     DisplayConfig     `yaml:"display"`
	Status      StatusConfig      `yaml:"status"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds video source settings.
type CameraConfig struct {
	// Device is a capture index ("0"), a device path or a stream URL.
	Device string `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// RecognitionConfig holds face detection and matching settings.
type RecognitionConfig struct {
	ModelPath      string  `yaml:"model_path"`
	Detector       string  `yaml:"detector"` // "hog" or "cnn"
	MatchThreshold float64 `yaml:"match_threshold"`
}

// GalleryConfig holds enrollment settings.
type GalleryConfig struct {
	Source             string   `yaml:"source"` // "dir" or "http"
	Root               string   `yaml:"root"`
	BaseURL            string   `yaml:"base_url"`
	Identities         []string `yaml:"identities"`
	SamplesPerIdentity int      `yaml:"samples_per_identity"`
	Concurrency        int      `yaml:"concurrency"`
	MaxSampleDimension int      `yaml:"max_sample_dimension"`
	RequireSamples     bool     `yaml:"require_samples"`
}

// DistanceConfig holds the calibration used for distance estimation.
type DistanceConfig struct {
	ReferenceBoxWidth float64 `yaml:"reference_box_width"`
	ReferenceDistance float64 `yaml:"reference_distance"`
	AdjustmentFactor  float64 `yaml:"adjustment_factor"`
}

// LoopConfig holds recognition loop timing.
type LoopConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DisplayConfig holds render surface settings.
type DisplayConfig struct {
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	WindowName string `yaml:"window_name"`
	Headless   bool   `yaml:"headless"`
}

// StatusConfig holds the optional HTTP status endpoint settings.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Camera: CameraConfig{
			Device: "0",
			Width:  640,
			Height: 480,
		},
		Recognition: RecognitionConfig{
			ModelPath:      filepath.Join(homeDir, ".local/share/facerange/models"),
			Detector:       "hog",
			MatchThreshold: 0.55,
		},
		Gallery: GalleryConfig{
			Source:             "dir",
			Root:               filepath.Join(homeDir, ".local/share/facerange/labeled_images"),
			SamplesPerIdentity: 2,
			Concurrency:        4,
			MaxSampleDimension: 1024,
		},
		Distance: DistanceConfig{
			ReferenceBoxWidth: 150,
			ReferenceDistance: 100,
			AdjustmentFactor:  0.85,
		},
		Loop: LoopConfig{
			Interval: 100 * time.Millisecond,
		},
		Display: DisplayConfig{
			Width:      640,
			Height:     480,
			WindowName: "facerange",
		},
		Status: StatusConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8089",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file on top of the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/facerange/facerange.yaml"); err == nil {
		return Load("/etc/facerange/facerange.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facerange/facerange.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables already set are not overridden. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnv overrides selected settings from FACERANGE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("FACERANGE_MODEL_PATH"); v != "" {
		c.Recognition.ModelPath = v
	}
	if v := os.Getenv("FACERANGE_GALLERY_ROOT"); v != "" {
		c.Gallery.Root = v
	}
	if v := os.Getenv("FACERANGE_GALLERY_URL"); v != "" {
		c.Gallery.Source = "http"
		c.Gallery.BaseURL = v
	}
	if v := os.Getenv("FACERANGE_CAMERA_DEVICE"); v != "" {
		c.Camera.Device = v
	}
	if v := os.Getenv("FACERANGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FACERANGE_MATCH_THRESHOLD"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid FACERANGE_MATCH_THRESHOLD %q: %w", v, err)
		}
		c.Recognition.MatchThreshold = threshold
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Gallery.Root = ExpandPath(c.Gallery.Root)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}

	switch c.Recognition.Detector {
	case "hog", "cnn":
	default:
		return fmt.Errorf("invalid detector: %s (must be hog or cnn)", c.Recognition.Detector)
	}
	if c.Recognition.MatchThreshold <= 0 {
		return fmt.Errorf("match_threshold must be positive, got %f", c.Recognition.MatchThreshold)
	}

	switch c.Gallery.Source {
	case "dir":
		if c.Gallery.Root == "" {
			return fmt.Errorf("gallery.root is required for the dir source")
		}
	case "http":
		if c.Gallery.BaseURL == "" {
			return fmt.Errorf("gallery.base_url is required for the http source")
		}
	default:
		return fmt.Errorf("invalid gallery source: %s (must be dir or http)", c.Gallery.Source)
	}
	if c.Gallery.SamplesPerIdentity <= 0 {
		return fmt.Errorf("samples_per_identity must be positive, got %d", c.Gallery.SamplesPerIdentity)
	}
	if c.Gallery.Concurrency <= 0 {
		return fmt.Errorf("gallery concurrency must be positive, got %d", c.Gallery.Concurrency)
	}
	if c.Gallery.MaxSampleDimension < 0 {
		return fmt.Errorf("max_sample_dimension must not be negative, got %d", c.Gallery.MaxSampleDimension)
	}

	if c.Distance.ReferenceBoxWidth <= 0 || c.Distance.ReferenceDistance <= 0 || c.Distance.AdjustmentFactor <= 0 {
		return fmt.Errorf("distance calibration values must be positive, got width=%f distance=%f factor=%f",
			c.Distance.ReferenceBoxWidth, c.Distance.ReferenceDistance, c.Distance.AdjustmentFactor)
	}

	if c.Loop.Interval <= 0 {
		return fmt.Errorf("loop interval must be positive, got %s", c.Loop.Interval)
	}

	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("invalid display size: %dx%d", c.Display.Width, c.Display.Height)
	}

	if c.Status.Enabled && c.Status.Listen == "" {
		return fmt.Errorf("status.listen is required when the status endpoint is enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}
