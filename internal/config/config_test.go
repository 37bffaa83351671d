package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	if cfg.BatchSize != 100 {
		t.Errorf("BatchSize = %d, want 100", cfg.BatchSize)
	}
	if cfg.BatchTimeout != Duration(5*time.Second) {
		t.Errorf("BatchTimeout = %s, want 5s", cfg.BatchTimeout)
	}
	if cfg.OverflowPolicy != OverflowBlock {
		t.Errorf("OverflowPolicy = %s, want block", cfg.OverflowPolicy)
	}
	if cfg.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.RetentionDays)
	}
}

func TestResolveDerivesPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/tracefold"
	cfg.Resolve()

	if cfg.DatabasePath != filepath.Join("/var/lib/tracefold", "events.db") {
		t.Errorf("DatabasePath = %s", cfg.DatabasePath)
	}
	if cfg.ReplayDir != filepath.Join("/var/lib/tracefold", "replay") {
		t.Errorf("ReplayDir = %s", cfg.ReplayDir)
	}
}

func TestResolveKeepsExplicitPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	cfg.DatabasePath = "/elsewhere/store.db"
	cfg.Resolve()

	if cfg.DatabasePath != "/elsewhere/store.db" {
		t.Errorf("explicit DatabasePath overridden: %s", cfg.DatabasePath)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"negative batch timeout", func(c *Config) { c.BatchTimeout = Duration(-time.Second) }},
		{"zero queue capacity", func(c *Config) { c.QueueCapacity = 0 }},
		{"unknown overflow policy", func(c *Config) { c.OverflowPolicy = "spill" }},
		{"negative flush retries", func(c *Config) { c.MaxFlushRetries = -1 }},
		{"zero retention", func(c *Config) { c.RetentionDays = 0 }},
		{"zero cleanup interval", func(c *Config) { c.CleanupInterval = 0 }},
		{"zero sweep chunk", func(c *Config) { c.SweepChunkSize = 0 }},
		{"negative compression threshold", func(c *Config) { c.CompressionThresholdBytes = -1 }},
		{"zero dedup bucket", func(c *Config) { c.DedupBucket = 0 }},
		{"negative stats interval", func(c *Config) { c.StatsInterval = Duration(-time.Second) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Resolve()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRetentionHorizon(t *testing.T) {
	cfg := Default()
	cfg.RetentionDays = 7
	if got := cfg.RetentionHorizon(); got != 7*24*time.Hour {
		t.Errorf("RetentionHorizon = %s, want 168h", got)
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
data_dir: /srv/tracefold
batch_size: 250
batch_timeout: 2s
cleanup_interval: 3600000000000
overflow_policy: drop-oldest
retention_days: 14
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.DataDir != "/srv/tracefold" {
		t.Errorf("DataDir = %s", cfg.DataDir)
	}
	if cfg.BatchSize != 250 {
		t.Errorf("BatchSize = %d, want 250", cfg.BatchSize)
	}
	if cfg.BatchTimeout != Duration(2*time.Second) {
		t.Errorf("BatchTimeout = %s, want 2s", cfg.BatchTimeout)
	}
	if cfg.CleanupInterval != Duration(time.Hour) {
		t.Errorf("CleanupInterval = %s, want 1h from integer nanoseconds", cfg.CleanupInterval)
	}
	if cfg.OverflowPolicy != OverflowDropOldest {
		t.Errorf("OverflowPolicy = %s, want drop-oldest", cfg.OverflowPolicy)
	}
	// Options absent from the file keep their defaults.
	if cfg.QueueCapacity != 10000 {
		t.Errorf("QueueCapacity = %d, want default 10000", cfg.QueueCapacity)
	}
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := []byte(`{"data_dir": "/srv/tracefold", "batch_size": 50, "submit_timeout": "750ms"}`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.BatchSize)
	}
	if cfg.SubmitTimeout != Duration(750*time.Millisecond) {
		t.Errorf("SubmitTimeout = %s, want 750ms", cfg.SubmitTimeout)
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	var cfg Config
	if err := yaml.Unmarshal([]byte("batch_timeout: shortly"), &cfg); err == nil {
		t.Error("expected error for unparseable YAML duration")
	}
	if err := json.Unmarshal([]byte(`{"batch_timeout": "shortly"}`), &cfg); err == nil {
		t.Error("expected error for unparseable JSON duration")
	}
	if err := json.Unmarshal([]byte(`{"batch_timeout": true}`), &cfg); err == nil {
		t.Error("expected error for JSON duration of the wrong type")
	}
}

func TestLoadFromFileUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("TRACEFOLD_DATA_DIR", "/env/data")
	t.Setenv("TRACEFOLD_BATCH_SIZE", "42")
	t.Setenv("TRACEFOLD_BATCH_TIMEOUT", "250ms")
	t.Setenv("TRACEFOLD_OVERFLOW_POLICY", "drop-newest")
	t.Setenv("TRACEFOLD_RETENTION_DAYS", "3")

	cfg := Default()
	LoadFromEnv(cfg)

	if cfg.DataDir != "/env/data" {
		t.Errorf("DataDir = %s", cfg.DataDir)
	}
	if cfg.BatchSize != 42 {
		t.Errorf("BatchSize = %d, want 42", cfg.BatchSize)
	}
	if cfg.BatchTimeout != Duration(250*time.Millisecond) {
		t.Errorf("BatchTimeout = %s, want 250ms", cfg.BatchTimeout)
	}
	if cfg.OverflowPolicy != OverflowDropNewest {
		t.Errorf("OverflowPolicy = %s, want drop-newest", cfg.OverflowPolicy)
	}
	if cfg.RetentionDays != 3 {
		t.Errorf("RetentionDays = %d, want 3", cfg.RetentionDays)
	}
}

func TestLoadFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TRACEFOLD_BATCH_SIZE", "not-a-number")
	t.Setenv("TRACEFOLD_BATCH_TIMEOUT", "soon")

	cfg := Default()
	LoadFromEnv(cfg)

	if cfg.BatchSize != 100 {
		t.Errorf("malformed batch size should keep default, got %d", cfg.BatchSize)
	}
	if cfg.BatchTimeout != Duration(5*time.Second) {
		t.Errorf("malformed timeout should keep default, got %s", cfg.BatchTimeout)
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")
	cfg.Resolve()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.DataDir, cfg.ReplayDir} {
		fi, err := os.Stat(dir)
		if err != nil || !fi.IsDir() {
			t.Errorf("directory %s missing: %v", dir, err)
		}
	}
}
