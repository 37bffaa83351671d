// Package config provides the immutable startup configuration for the
// Tracefold engine. A Config is built once at process start (defaults →
// optional file → environment overrides), validated, and then passed by
// reference into each component. Nothing mutates it afterwards.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OverflowPolicy selects what the ingestion queue does when it is full.
type OverflowPolicy string

const (
	// OverflowBlock makes Submit wait up to SubmitTimeout for space.
	OverflowBlock OverflowPolicy = "block"

	// OverflowDropOldest evicts the oldest queued event to make room.
	OverflowDropOldest OverflowPolicy = "drop-oldest"

	// OverflowDropNewest discards the incoming event.
	OverflowDropNewest OverflowPolicy = "drop-newest"
)

// Duration is a time.Duration that decodes from both duration strings
// ("5s", "24h") and plain integer nanoseconds in YAML and JSON config
// files, and encodes back as a duration string.
type Duration time.Duration

// String formats the duration the way time.Duration does.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON encodes the duration as a string like "5s".
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
}

// MarshalYAML encodes the duration as a string like "5s".
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if parsed, err := time.ParseDuration(value.Value); err == nil {
		*d = Duration(parsed)
		return nil
	}
	if n, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	return fmt.Errorf("invalid duration %q", value.Value)
}

// Config holds the engine configuration.
type Config struct {
	// DataDir is the base directory for the store file and replay dumps.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// DatabasePath is the SQLite store file. Defaults to <DataDir>/events.db.
	DatabasePath string `json:"database_path" yaml:"database_path"`

	// ReplayDir holds JSON dumps of batches that exhausted their write
	// retries. Defaults to <DataDir>/replay.
	ReplayDir string `json:"replay_dir" yaml:"replay_dir"`

	// BatchSize is the maximum number of events per flush (default 100).
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// BatchTimeout is the maximum wait after the first event of a batch
	// before flushing regardless of size (default 5s).
	BatchTimeout Duration `json:"batch_timeout" yaml:"batch_timeout"`

	// QueueCapacity bounds the ingestion queue (default 10000).
	QueueCapacity int `json:"queue_capacity" yaml:"queue_capacity"`

	// OverflowPolicy selects the queue-full behavior (default block).
	OverflowPolicy OverflowPolicy `json:"overflow_policy" yaml:"overflow_policy"`

	// SubmitTimeout bounds how long a blocked Submit waits (default 2s).
	SubmitTimeout Duration `json:"submit_timeout" yaml:"submit_timeout"`

	// MaxFlushRetries bounds retries of a failed batch commit (default 5).
	MaxFlushRetries int `json:"max_flush_retries" yaml:"max_flush_retries"`

	// RetentionDays is the event retention horizon (default 30).
	RetentionDays int `json:"retention_days" yaml:"retention_days"`

	// CleanupInterval is the sweep cadence (default 24h).
	CleanupInterval Duration `json:"cleanup_interval" yaml:"cleanup_interval"`

	// SweepChunkSize bounds rows deleted per retention transaction (default 500).
	SweepChunkSize int `json:"sweep_chunk_size" yaml:"sweep_chunk_size"`

	// CompressionThresholdBytes is the payload size above which snappy
	// compression is applied (default 1024).
	CompressionThresholdBytes int `json:"compression_threshold_bytes" yaml:"compression_threshold_bytes"`

	// DedupBucket is the time-bucket granularity for the dedup fingerprint
	// (default 1s).
	DedupBucket Duration `json:"dedup_bucket" yaml:"dedup_bucket"`

	// StatsInterval is the cadence of stats snapshots; 0 disables the
	// snapshotter (default 60s).
	StatsInterval Duration `json:"stats_interval" yaml:"stats_interval"`
}

// Default returns the default configuration for local development.
func Default() *Config {
	return &Config{
		DataDir:                   "./data/tracefold",
		BatchSize:                 100,
		BatchTimeout:              Duration(5 * time.Second),
		QueueCapacity:             10000,
		OverflowPolicy:            OverflowBlock,
		SubmitTimeout:             Duration(2 * time.Second),
		MaxFlushRetries:           5,
		RetentionDays:             30,
		CleanupInterval:           Duration(24 * time.Hour),
		SweepChunkSize:            500,
		CompressionThresholdBytes: 1024,
		DedupBucket:               Duration(time.Second),
		StatsInterval:             Duration(60 * time.Second),
	}
}

// Resolve fills derived paths based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/tracefold"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "events.db")
	}
	if c.ReplayDir == "" {
		c.ReplayDir = filepath.Join(c.DataDir, "replay")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("batch_timeout must be positive, got %s", c.BatchTimeout)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	switch c.OverflowPolicy {
	case OverflowBlock, OverflowDropOldest, OverflowDropNewest:
	default:
		return fmt.Errorf("invalid overflow_policy: %s (must be block, drop-oldest, or drop-newest)", c.OverflowPolicy)
	}
	if c.MaxFlushRetries < 0 {
		return fmt.Errorf("max_flush_retries must be non-negative, got %d", c.MaxFlushRetries)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive, got %d", c.RetentionDays)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive, got %s", c.CleanupInterval)
	}
	if c.SweepChunkSize <= 0 {
		return fmt.Errorf("sweep_chunk_size must be positive, got %d", c.SweepChunkSize)
	}
	if c.CompressionThresholdBytes < 0 {
		return fmt.Errorf("compression_threshold_bytes must be non-negative, got %d", c.CompressionThresholdBytes)
	}
	if c.DedupBucket <= 0 {
		return fmt.Errorf("dedup_bucket must be positive, got %s", c.DedupBucket)
	}
	if c.StatsInterval < 0 {
		return fmt.Errorf("stats_interval must be non-negative, got %s", c.StatsInterval)
	}
	return nil
}

// RetentionHorizon returns the retention horizon as a duration.
func (c *Config) RetentionHorizon() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.DatabasePath),
		c.ReplayDir,
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

// LoadFromFile loads configuration from a YAML or JSON file, layered over
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()

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

// LoadFromEnv applies environment variable overrides.
// Environment variables use the TRACEFOLD_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TRACEFOLD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TRACEFOLD_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("TRACEFOLD_REPLAY_DIR"); v != "" {
		cfg.ReplayDir = v
	}
	if v := os.Getenv("TRACEFOLD_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("TRACEFOLD_BATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.BatchTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TRACEFOLD_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueCapacity = n
		}
	}
	if v := os.Getenv("TRACEFOLD_OVERFLOW_POLICY"); v != "" {
		cfg.OverflowPolicy = OverflowPolicy(v)
	}
	if v := os.Getenv("TRACEFOLD_SUBMIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SubmitTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TRACEFOLD_MAX_FLUSH_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxFlushRetries = n
		}
	}
	if v := os.Getenv("TRACEFOLD_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetentionDays = n
		}
	}
	if v := os.Getenv("TRACEFOLD_CLEANUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CleanupInterval = Duration(d)
		}
	}
	if v := os.Getenv("TRACEFOLD_SWEEP_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepChunkSize = n
		}
	}
	if v := os.Getenv("TRACEFOLD_COMPRESSION_THRESHOLD_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CompressionThresholdBytes = n
		}
	}
	if v := os.Getenv("TRACEFOLD_DEDUP_BUCKET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DedupBucket = Duration(d)
		}
	}
	if v := os.Getenv("TRACEFOLD_STATS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StatsInterval = Duration(d)
		}
	}
}
