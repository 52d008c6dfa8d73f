// Package config provides unified configuration for all vibewatch services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vibewatch/vibewatch/internal/logging"
)

// Mode represents the service mode to run.
type Mode string

const (
	ModeAll  Mode = "all"
	ModeHTTP Mode = "http"
	ModeGRPC Mode = "grpc"
)

// Config holds the unified configuration for all vibewatch services.
type Config struct {
	// Mode specifies which surfaces to run: all, http, grpc
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	GRPC     GRPCConfig     `json:"grpc" yaml:"grpc"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`

	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	Retention RetentionConfig `json:"retention" yaml:"retention"`
	Log       logging.Config  `json:"log" yaml:"log"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// MaxUploadMB caps the multipart body accepted by POST /v1/datasets
	MaxUploadMB int64 `json:"max_upload_mb" yaml:"max_upload_mb"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	Addr    string `json:"addr" yaml:"addr"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// PipelineConfig holds batch runner configuration.
type PipelineConfig struct {
	// WorkDir holds per-run scratch directories
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// Timeout bounds a single run end to end
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// DownloadConcurrency is the number of inputs fetched in parallel
	DownloadConcurrency int `json:"download_concurrency" yaml:"download_concurrency"`

	// ReuseFingerprint returns the previous run when the same snapshot is submitted again
	ReuseFingerprint bool `json:"reuse_fingerprint" yaml:"reuse_fingerprint"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// NotifyConfig holds flagged-employee alert configuration. With no brokers
// alerts are written to the log.
type NotifyConfig struct {
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	Topic        string        `json:"topic" yaml:"topic"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// RetentionConfig holds background maintenance settings.
type RetentionConfig struct {
	// TTL is how long finished runs are kept; zero keeps every run
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// Interval is the time between maintenance cycles
	Interval time.Duration `json:"interval" yaml:"interval"`

	// StatsWindow is how long a reported problem counts toward the recurring problem statistics
	StatsWindow time.Duration `json:"stats_window" yaml:"stats_window"`

	// ReconcileOnStart checks the catalog against storage when the service starts
	ReconcileOnStart bool `json:"reconcile_on_start" yaml:"reconcile_on_start"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/vibewatch",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  120 * time.Second,
			MaxUploadMB:  256,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Pipeline: PipelineConfig{
			Timeout:             10 * time.Minute,
			DownloadConcurrency: 6,
			ReuseFingerprint:    true,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Notify: NotifyConfig{
			Topic:        "vibewatch.flagged",
			WriteTimeout: 10 * time.Second,
		},
		Retention: RetentionConfig{
			TTL:              90 * 24 * time.Hour,
			Interval:         time.Hour,
			StatsWindow:      30 * 24 * time.Hour,
			ReconcileOnStart: true,
		},
		Log: logging.Config{
			Environment: "development",
			Level:       "info",
			Format:      "console",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/vibewatch"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Pipeline.WorkDir == "" {
		c.Pipeline.WorkDir = filepath.Join(c.DataDir, "work")
	}
}

// ManifestPath returns the path to the run catalog database.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.DataDir, "manifest.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeHTTP, ModeGRPC:
	default:
		return fmt.Errorf("invalid mode: %s (must be all, http, or grpc)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Pipeline.DownloadConcurrency < 1 {
		return fmt.Errorf("pipeline.download_concurrency must be positive, got %d", c.Pipeline.DownloadConcurrency)
	}

	if c.Retention.TTL > 0 && c.Retention.Interval <= 0 {
		return fmt.Errorf("retention.interval must be positive when retention.ttl is set")
	}

	if len(c.Notify.Brokers) > 0 && c.Notify.Topic == "" {
		return fmt.Errorf("notify.topic is required when brokers are configured")
	}

	return nil
}

// ShouldRunHTTP returns true if the HTTP API should run.
func (c *Config) ShouldRunHTTP() bool {
	return c.Mode == ModeAll || c.Mode == ModeHTTP
}

// ShouldRunGRPC returns true if the gRPC API should run.
func (c *Config) ShouldRunGRPC() bool {
	return (c.Mode == ModeAll || c.Mode == ModeGRPC) && c.GRPC.Enabled
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing files
// are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the VIBEWATCH_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("VIBEWATCH_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("VIBEWATCH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("VIBEWATCH_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("VIBEWATCH_HTTP_MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.HTTP.MaxUploadMB = n
		}
	}

	// gRPC configuration
	if v := os.Getenv("VIBEWATCH_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("VIBEWATCH_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	// Pipeline configuration
	if v := os.Getenv("VIBEWATCH_PIPELINE_WORK_DIR"); v != "" {
		cfg.Pipeline.WorkDir = v
	}
	if v := os.Getenv("VIBEWATCH_PIPELINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.Timeout = d
		}
	}
	if v := os.Getenv("VIBEWATCH_PIPELINE_DOWNLOAD_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Pipeline.DownloadConcurrency)
	}

	// Storage configuration
	if v := os.Getenv("VIBEWATCH_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("VIBEWATCH_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("VIBEWATCH_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("VIBEWATCH_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("VIBEWATCH_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	// Notify configuration
	if v := os.Getenv("VIBEWATCH_KAFKA_BROKERS"); v != "" {
		cfg.Notify.Brokers = splitList(v)
	}
	if v := os.Getenv("VIBEWATCH_KAFKA_TOPIC"); v != "" {
		cfg.Notify.Topic = v
	}

	// Retention configuration
	if v := os.Getenv("VIBEWATCH_RETENTION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.TTL = d
		}
	}
	if v := os.Getenv("VIBEWATCH_RETENTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.Interval = d
		}
	}

	// Logging
	if v := os.Getenv("VIBEWATCH_ENV"); v != "" {
		cfg.Log.Environment = v
	}
	if v := os.Getenv("VIBEWATCH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("VIBEWATCH_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Storage.Path,
		c.Pipeline.WorkDir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
