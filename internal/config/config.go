// Package config provides unified configuration for the Tallyline engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the unified configuration for the reconciliation engine.
type Config struct {
	// TaskCode is the default task identifier recorded on each run
	TaskCode string `json:"task_code" yaml:"task_code"`

	// DataDir is the base directory for all engine-local state
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration for the ops API
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Sources configuration (payload + interaction feeds)
	Sources SourcesConfig `json:"sources" yaml:"sources"`

	// Pipeline configuration
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`

	// Parity auditor configuration
	Parity ParityConfig `json:"parity" yaml:"parity"`

	// Snapshot export configuration
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`
}

// HTTPConfig holds ops API server configuration.
type HTTPConfig struct {
	// Addr is the listen address for the ops API
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown on SIGTERM
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Snapshot storage backends.
const (
	SnapshotStorageLocal = "local"
	SnapshotStorageS3    = "s3"
)

// SourcesConfig holds source feed configuration.
type SourcesConfig struct {
	// PostgresDSN is the connection string for the payload and interaction
	// feeds. Empty selects the in-memory source (tests, demos).
	PostgresDSN string `json:"postgres_dsn" yaml:"postgres_dsn"`

	// QueryTimeout bounds each source read; on expiry the run fails
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout"`
}

// PipelineConfig holds per-run processing configuration.
type PipelineConfig struct {
	// Workers is the worker count for the normalization/classification phase
	Workers int `json:"workers" yaml:"workers"`

	// ShardSize is the number of records per worker shard; cancellation is
	// checked between shards
	ShardSize int `json:"shard_size" yaml:"shard_size"`

	// DaypartBounds configures hour-of-day bucketing
	DaypartBounds DaypartBounds `json:"daypart_bounds" yaml:"daypart_bounds"`
}

// DaypartBounds documents the fixed hour boundaries for daypart bucketing.
// Hours are inclusive start, inclusive end, 24h clock. Anything outside the
// three named ranges is Night.
type DaypartBounds struct {
	MorningStart   int `json:"morning_start" yaml:"morning_start"`
	MorningEnd     int `json:"morning_end" yaml:"morning_end"`
	AfternoonStart int `json:"afternoon_start" yaml:"afternoon_start"`
	AfternoonEnd   int `json:"afternoon_end" yaml:"afternoon_end"`
	EveningStart   int `json:"evening_start" yaml:"evening_start"`
	EveningEnd     int `json:"evening_end" yaml:"evening_end"`
}

// ParityConfig holds parity audit configuration.
type ParityConfig struct {
	// WindowDays is the trailing window audited after each run
	WindowDays int `json:"window_days" yaml:"window_days"`

	// AmountTolerance is the absolute currency tolerance for the amount
	// comparison. Count comparison is always exact.
	AmountTolerance float64 `json:"amount_tolerance" yaml:"amount_tolerance"`
}

// SnapshotConfig holds projection snapshot export configuration.
type SnapshotConfig struct {
	// Enabled turns snapshot export on after successful builds
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Storage selects the snapshot backend: local or s3
	Storage string `json:"storage" yaml:"storage"`

	// Path is the base path for the local backend
	Path string `json:"path" yaml:"path"`

	// S3 holds S3 backend settings
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 snapshot storage settings.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TaskCode: "retail-reconcile",
		DataDir:  "",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Sources: SourcesConfig{
			QueryTimeout: 60 * time.Second,
		},
		Pipeline: PipelineConfig{
			Workers:       4,
			ShardSize:     512,
			DaypartBounds: DefaultDaypartBounds(),
		},
		Parity: ParityConfig{
			WindowDays:      7,
			AmountTolerance: 0.005,
		},
		Snapshot: SnapshotConfig{
			Enabled: false,
			Storage: "local",
		},
	}
}

// DefaultDaypartBounds returns the documented daypart boundaries:
// Morning 05–11, Afternoon 12–16, Evening 17–20, Night otherwise.
func DefaultDaypartBounds() DaypartBounds {
	return DaypartBounds{
		MorningStart:   5,
		MorningEnd:     11,
		AfternoonStart: 12,
		AfternoonEnd:   16,
		EveningStart:   17,
		EveningEnd:     20,
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/tallyline"
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = filepath.Join(c.DataDir, "snapshots")
	}
}

// StatePath returns the path to the engine state database (run tracker,
// quarantine, projections, parity log).
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "tallyline.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.TaskCode == "" {
		return fmt.Errorf("task_code is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if c.Pipeline.ShardSize < 1 {
		return fmt.Errorf("pipeline.shard_size must be at least 1")
	}
	if c.Parity.WindowDays < 1 {
		return fmt.Errorf("parity.window_days must be at least 1")
	}
	if c.Parity.AmountTolerance < 0 {
		return fmt.Errorf("parity.amount_tolerance must not be negative")
	}
	if err := c.Pipeline.DaypartBounds.validate(); err != nil {
		return err
	}
	if c.Snapshot.Storage != SnapshotStorageLocal && c.Snapshot.Storage != SnapshotStorageS3 {
		return fmt.Errorf("invalid snapshot storage: %s (must be local or s3)", c.Snapshot.Storage)
	}
	if c.Snapshot.Enabled && c.Snapshot.Storage == "s3" && c.Snapshot.S3.Bucket == "" {
		return fmt.Errorf("snapshot.s3.bucket is required when snapshot storage is s3")
	}
	return nil
}

func (b DaypartBounds) validate() error {
	hours := []int{
		b.MorningStart, b.MorningEnd,
		b.AfternoonStart, b.AfternoonEnd,
		b.EveningStart, b.EveningEnd,
	}
	for _, h := range hours {
		if h < 0 || h > 23 {
			return fmt.Errorf("daypart bound %d out of range 0-23", h)
		}
	}
	if b.MorningStart > b.MorningEnd || b.AfternoonStart > b.AfternoonEnd || b.EveningStart > b.EveningEnd {
		return fmt.Errorf("daypart bounds must be ordered start <= end")
	}
	return nil
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

// LoadDotEnv loads a .env file into the process environment if one exists.
// Missing files are not an error.
func LoadDotEnv(path string) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Load(path)
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the TALLYLINE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TALLYLINE_TASK_CODE"); v != "" {
		cfg.TaskCode = v
	}
	if v := os.Getenv("TALLYLINE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TALLYLINE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("TALLYLINE_POSTGRES_DSN"); v != "" {
		cfg.Sources.PostgresDSN = v
	}
	if v := os.Getenv("TALLYLINE_SOURCE_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sources.QueryTimeout = d
		}
	}
	if v := os.Getenv("TALLYLINE_PIPELINE_WORKERS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Pipeline.Workers)
	}
	if v := os.Getenv("TALLYLINE_PARITY_WINDOW_DAYS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Parity.WindowDays)
	}
	if v := os.Getenv("TALLYLINE_SNAPSHOT_ENABLED"); v != "" {
		cfg.Snapshot.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TALLYLINE_SNAPSHOT_STORAGE"); v != "" {
		cfg.Snapshot.Storage = v
	}
	if v := os.Getenv("TALLYLINE_SNAPSHOT_PATH"); v != "" {
		cfg.Snapshot.Path = v
	}
	if v := os.Getenv("TALLYLINE_S3_BUCKET"); v != "" {
		cfg.Snapshot.S3.Bucket = v
	}
	if v := os.Getenv("TALLYLINE_S3_REGION"); v != "" {
		cfg.Snapshot.S3.Region = v
	}
	if v := os.Getenv("TALLYLINE_S3_ENDPOINT"); v != "" {
		cfg.Snapshot.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Snapshot.Storage == SnapshotStorageLocal {
		dirs = append(dirs, c.Snapshot.Path)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
