// Package config loads the service configuration from YAML and merges
// per-camera overrides into engine settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"hotelcctv/internal/auth"
	"hotelcctv/internal/database"
	"hotelcctv/internal/storage"
	"hotelcctv/internal/validation"
	"hotelcctv/internal/worker"
)

const maxFileSize = 1 << 20

// Config is the root configuration
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Logging    LoggingConfig        `yaml:"logging"`
	Database   database.Config      `yaml:"database"`
	Auth       auth.Config          `yaml:"auth"`
	Validation validation.Config    `yaml:"validation"`
	Inference  InferenceConfig      `yaml:"inference"`
	Capture    CaptureConfig        `yaml:"capture"`
	Worker     worker.Config        `yaml:"worker"`
	Clips      ClipConfig           `yaml:"clips"`
	Storage    *storage.MinIOConfig `yaml:"storage"` // Optional clip upload
	Cleanup    CleanupConfig        `yaml:"cleanup"`

	// Defaults apply to every camera before its own overrides
	Defaults CameraSettings `yaml:"defaults"`

	// Autostart lists cameras whose workers start with the service
	Autostart []string `yaml:"autostart"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// InferenceConfig selects the pose/object detection backend
type InferenceConfig struct {
	Backend       string        `yaml:"backend"` // grpc or http
	Endpoint      string        `yaml:"endpoint"`
	ConfThreshold float64       `yaml:"conf_threshold"`
	Classes       []string      `yaml:"classes"`
	Timeout       time.Duration `yaml:"timeout"`
	HealthTTL     time.Duration `yaml:"health_ttl"`
}

type CaptureConfig struct {
	FPS         int           `yaml:"fps"`
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type ClipConfig struct {
	Dir              string        `yaml:"dir"`
	FPS              int           `yaml:"fps"`
	ThumbnailWidth   int           `yaml:"thumbnail_width"`
	TranscodeTimeout time.Duration `yaml:"transcode_timeout"`
}

type CleanupConfig struct {
	Interval         time.Duration `yaml:"interval"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
}

const (
	BackendGRPC = "grpc"
	BackendHTTP = "http"
)

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8080", ShutdownTimeout: 15 * time.Second},
		Logging: LoggingConfig{Level: "info"},
		Database: database.Config{
			Driver: database.DriverSQLite,
			DSN:    "hotelcctv.db",
		},
		Auth: auth.Config{Username: "admin", JWTExpiry: 24 * time.Hour},
		Validation: validation.Config{
			Model:   validation.DefaultModel,
			Timeout: 10 * time.Second,
		},
		Inference: InferenceConfig{
			Backend:       BackendGRPC,
			Endpoint:      "localhost:50051",
			ConfThreshold: 0.25,
			Classes:       []string{"fire", "smoke"},
			Timeout:       5 * time.Second,
			HealthTTL:     10 * time.Second,
		},
		Capture: CaptureConfig{FPS: 15, ReadTimeout: 10 * time.Second},
		Worker:  worker.DefaultConfig(),
		Clips: ClipConfig{
			Dir:              "media/clips",
			FPS:              15,
			ThumbnailWidth:   320,
			TranscodeTimeout: 60 * time.Second,
		},
		Cleanup: CleanupConfig{Interval: 30 * time.Second, HeartbeatTimeout: 30 * time.Second},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readFile(path string) ([]byte, error) {
	clean := filepath.Clean(path)
	switch filepath.Ext(clean) {
	case ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .yaml or .yml extension, got %q", filepath.Ext(clean))
	}
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return data, nil
}

// applyEnv overrides secrets and deployment settings from the environment
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("GEMINI_API_KEY"); ok && v != "" {
		c.Validation.APIKey = v
		c.Validation.Enabled = true
	}
	if v, ok := lookup("JWT_SECRET"); ok && v != "" {
		c.Auth.JWTSecret = v
	}
	if v, ok := lookup("AUTH_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AUTH_ENABLED %q: %w", v, err)
		}
		c.Auth.Enabled = enabled
	}
	if v, ok := lookup("AUTH_USERNAME"); ok && v != "" {
		c.Auth.Username = v
	}
	if v, ok := lookup("AUTH_PASSWORD"); ok && v != "" {
		c.Auth.Password = v
	}
	if v, ok := lookup("DATABASE_DSN"); ok && v != "" {
		c.Database.DSN = v
	}
	if v, ok := lookup("DATABASE_DRIVER"); ok && v != "" {
		c.Database.Driver = v
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Database.Driver {
	case database.DriverSQLite, database.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q",
			database.DriverSQLite, database.DriverPostgres, c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Auth.Enabled && c.Auth.Password == "" {
		errs = append(errs, errors.New("auth.password is required when auth is enabled"))
	}
	if c.Validation.Enabled && c.Validation.APIKey == "" {
		errs = append(errs, errors.New("validation.api_key is required when validation is enabled"))
	}
	switch c.Inference.Backend {
	case BackendGRPC, BackendHTTP:
	default:
		errs = append(errs, fmt.Errorf("inference.backend must be %q or %q, got %q",
			BackendGRPC, BackendHTTP, c.Inference.Backend))
	}
	if c.Inference.Endpoint == "" {
		errs = append(errs, errors.New("inference.endpoint is required"))
	}
	if c.Inference.ConfThreshold < 0 || c.Inference.ConfThreshold > 1 {
		errs = append(errs, fmt.Errorf("inference.conf_threshold must be between 0 and 1, got %v", c.Inference.ConfThreshold))
	}
	if c.Worker.ClipFrames > c.Worker.BufferCapacity {
		errs = append(errs, fmt.Errorf("worker.clip_frames (%d) exceeds worker.buffer_capacity (%d)",
			c.Worker.ClipFrames, c.Worker.BufferCapacity))
	}
	if c.Clips.Dir == "" {
		errs = append(errs, errors.New("clips.dir is required"))
	}
	if c.Storage != nil && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		errs = append(errs, errors.New("storage.endpoint and storage.bucket are required when storage is configured"))
	}
	if c.Cleanup.Interval <= 0 || c.Cleanup.HeartbeatTimeout <= 0 {
		errs = append(errs, errors.New("cleanup.interval and cleanup.heartbeat_timeout must be positive"))
	}
	if err := c.Defaults.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("defaults: %w", err))
	}
	return errors.Join(errs...)
}
