// Package config provides configuration management for CampusPass.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all CampusPass configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Geofence    GeofenceConfig    `yaml:"geofence"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds camera orientation settings for the capture pipeline.
type CameraConfig struct {
	// RotationDegrees is the sensor-to-display rotation (0, 90, 180 or 270).
	RotationDegrees int `yaml:"rotation_degrees"`
	// FrontFacing selects mirror correction for front cameras.
	FrontFacing bool `yaml:"front_facing"`
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	// MatchThreshold is the verification distance threshold. It is a
	// property of the deployed embedding model and must be calibrated
	// against it, not tuned freely.
	MatchThreshold float64 `yaml:"match_threshold"`
	// DetectorModelPath points at the dlib model directory for the
	// built-in detector. Empty when detection is provided externally.
	DetectorModelPath string `yaml:"detector_model_path"`
}

// GeofenceConfig holds the campus boundary. All three fields must be set
// for geofence monitoring to run; a partial record is rejected.
type GeofenceConfig struct {
	CenterLatitude  float64 `yaml:"center_latitude"`
	CenterLongitude float64 `yaml:"center_longitude"`
	RadiusMeters    float64 `yaml:"radius_meters"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ErrCampusNotConfigured is returned when the geofence section is missing
// or incomplete. The monitor cannot run without a campus boundary.
var ErrCampusNotConfigured = fmt.Errorf("campus geofence not configured")

// DefaultConfig returns the default configuration. The geofence section
// has no default: a campus boundary must be configured explicitly.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Camera: CameraConfig{
			RotationDegrees: 0,
			FrontFacing:     true,
		},
		Recognition: RecognitionConfig{
			MatchThreshold:    0.85,
			DetectorModelPath: filepath.Join(homeDir, ".local/share/campuspass/models"),
		},
		Storage: StorageConfig{
			DataDir:           filepath.Join(homeDir, ".local/share/campuspass"),
			EncryptionEnabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, ".local/share/campuspass/campuspass.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	// Try system config first
	if _, err := os.Stat("/etc/campuspass/campuspass.yaml"); err == nil {
		return Load("/etc/campuspass/campuspass.yaml")
	}

	// Try user config
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/campuspass/campuspass.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	// Return defaults
	return DefaultConfig(), nil
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

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	// Validate camera orientation
	switch c.Camera.RotationDegrees {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("rotation_degrees must be 0, 90, 180 or 270, got %d", c.Camera.RotationDegrees)
	}

	// Validate recognition settings
	if c.Recognition.MatchThreshold <= 0 || c.Recognition.MatchThreshold > 2 {
		return fmt.Errorf("match_threshold must be in (0, 2], got %f", c.Recognition.MatchThreshold)
	}

	// Validate geofence settings when present. A zero radius means the
	// section is absent, which is legal; CampusConfigured gates the monitor.
	if c.Geofence.RadiusMeters < 0 {
		return fmt.Errorf("radius_meters must be non-negative, got %f", c.Geofence.RadiusMeters)
	}
	if c.Geofence.CenterLatitude < -90 || c.Geofence.CenterLatitude > 90 {
		return fmt.Errorf("center_latitude must be between -90 and 90, got %f", c.Geofence.CenterLatitude)
	}
	if c.Geofence.CenterLongitude < -180 || c.Geofence.CenterLongitude > 180 {
		return fmt.Errorf("center_longitude must be between -180 and 180, got %f", c.Geofence.CenterLongitude)
	}

	// Validate logging level
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// CampusConfigured reports whether a complete campus boundary is present.
func (c *Config) CampusConfigured() bool {
	return c.Geofence.RadiusMeters > 0
}

// Campus returns the configured campus boundary, or
// ErrCampusNotConfigured when the record is missing or partial.
func (c *Config) Campus() (GeofenceConfig, error) {
	if !c.CampusConfigured() {
		return GeofenceConfig{}, ErrCampusNotConfigured
	}
	return c.Geofence, nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.DetectorModelPath = ExpandPath(c.Recognition.DetectorModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	// Create storage directory
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	// Create subjects subdirectory
	subjectsDir := filepath.Join(c.Storage.DataDir, "subjects")
	if err := os.MkdirAll(subjectsDir, 0700); err != nil {
		return fmt.Errorf("failed to create subjects directory: %w", err)
	}

	// Create log directory
	logDir := filepath.Dir(c.Logging.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	return nil
}
