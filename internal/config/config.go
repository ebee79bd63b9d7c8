// Package config loads frame-exporter configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/drafthaus/frame-exporter/internal/profile"
)

type Config struct {
	Log        LogConfig      `yaml:"log"`
	Metrics    MetricsConfig  `yaml:"metrics"`
	API        APIConfig      `yaml:"api"`
	Export     ExportConfig   `yaml:"export"`
	Storage    StorageConfig  `yaml:"storage"`
	Catalog    CatalogConfig  `yaml:"catalog"`
	Notify     NotifyConfig   `yaml:"notify"`
	Bundle     BundleConfig   `yaml:"bundle"`
	Checkpoint CheckpointCfg  `yaml:"checkpoint"`
	Watch      WatchConfig    `yaml:"watch"`
	Profiles   []profile.Rule `yaml:"profiles"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
	// File receives a JSON copy of the log stream when set.
	File string `yaml:"file"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type APIConfig struct {
	BaseURL                string `yaml:"base_url"`
	Token                  string `yaml:"token"`
	APITimeoutSeconds      int    `yaml:"api_timeout_seconds"`
	TransferTimeoutSeconds int    `yaml:"transfer_timeout_seconds"`
}

type ExportConfig struct {
	OutputDir  string   `yaml:"output_dir"`
	Format     string   `yaml:"format"`
	Scale      float64  `yaml:"scale"`
	Strategy   string   `yaml:"strategy"`
	Workers    int      `yaml:"workers"`
	BatchSize  int      `yaml:"batch_size"`
	MaxRetries int      `yaml:"max_retries"`
	Types      []string `yaml:"types"`
	Include    []string `yaml:"include"`
	Exclude    []string `yaml:"exclude"`
}

type StorageConfig struct {
	// Backend is local or blob. Local writes under export.output_dir.
	Backend string `yaml:"backend"`
	// Bucket is the blob bucket URL (gs://…, s3://…) for the blob backend.
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type CatalogConfig struct {
	// Backend is none, postgres or parquet.
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// Dir is where the parquet backend writes run files.
	Dir string `yaml:"dir"`
	// Strict escalates catalog failures into run failures.
	Strict bool `yaml:"strict"`
}

type NotifyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	BackupDir string `yaml:"backup_dir"`
	StateDir  string `yaml:"state_dir"`
	Strict    bool   `yaml:"strict"`
}

type BundleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type CheckpointCfg struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	// SkipUnchanged short-circuits a run when the document version has
	// not moved since the last recorded run.
	SkipUnchanged bool `yaml:"skip_unchanged"`
}

type WatchConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Default returns the configuration used when no file and no overrides
// are present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":2112",
		},
		API: APIConfig{
			APITimeoutSeconds:      15,
			TransferTimeoutSeconds: 30,
		},
		Export: ExportConfig{
			OutputDir: "./export",
			Format:    "png",
			Scale:     1,
			Strategy:  "fast",
		},
		Storage: StorageConfig{
			Backend: "local",
		},
		Catalog: CatalogConfig{
			Backend: "none",
		},
		Checkpoint: CheckpointCfg{
			Dir: ".frame-exporter",
		},
		Watch: WatchConfig{
			IntervalSeconds: 60,
		},
	}
}

// Load reads the YAML file at path over Default, applies environment
// overrides, and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv layers FRAME_* variables over the file values. The token is
// usually supplied this way so it stays out of config files.
func (c *Config) applyEnv() {
	c.API.Token = getenvDefault("FRAME_TOKEN", c.API.Token)
	c.API.BaseURL = getenvDefault("FRAME_BASE_URL", c.API.BaseURL)
	c.Export.OutputDir = getenvDefault("FRAME_OUTPUT_DIR", c.Export.OutputDir)
	c.Log.Level = getenvDefault("FRAME_LOG_LEVEL", c.Log.Level)
	c.Catalog.PostgresDSN = getenvDefault("FRAME_CATALOG_DSN", c.Catalog.PostgresDSN)
	c.Notify.Endpoint = getenvDefault("FRAME_NOTIFY_ENDPOINT", c.Notify.Endpoint)

	if v := os.Getenv("FRAME_WORKERS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			c.Export.Workers = parsed
		}
	}
}

func (c *Config) Validate() error {
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	switch c.Export.Strategy {
	case "", "fast", "conservative":
	default:
		return fmt.Errorf("export.strategy must be fast or conservative, got %q", c.Export.Strategy)
	}

	switch c.Export.Format {
	case "", "png", "jpg", "svg", "pdf":
	default:
		return fmt.Errorf("export.format must be png, jpg, svg or pdf, got %q", c.Export.Format)
	}

	if c.Export.Scale < 0 || c.Export.Scale > 4 {
		return fmt.Errorf("export.scale must be between 0 and 4, got %g", c.Export.Scale)
	}
	if c.Export.Workers < 0 {
		return fmt.Errorf("export.workers must not be negative")
	}
	if c.Export.BatchSize < 0 {
		return fmt.Errorf("export.batch_size must not be negative")
	}

	switch c.Storage.Backend {
	case "", "local":
	case "blob":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the blob backend")
		}
	default:
		return fmt.Errorf("storage.backend must be local or blob, got %q", c.Storage.Backend)
	}

	switch c.Catalog.Backend {
	case "", "none":
	case "postgres":
		if c.Catalog.PostgresDSN == "" {
			return fmt.Errorf("catalog.postgres_dsn is required for the postgres backend")
		}
	case "parquet":
		if c.Catalog.Dir == "" {
			return fmt.Errorf("catalog.dir is required for the parquet backend")
		}
	default:
		return fmt.Errorf("catalog.backend must be none, postgres or parquet, got %q", c.Catalog.Backend)
	}

	if c.Notify.Enabled && c.Notify.Endpoint == "" && c.Notify.BackupDir == "" {
		return fmt.Errorf("notify requires an endpoint or a backup_dir")
	}

	if c.Watch.IntervalSeconds < 0 {
		return fmt.Errorf("watch.interval_seconds must not be negative")
	}

	for i := range c.Profiles {
		if err := c.Profiles[i].Validate(); err != nil {
			return fmt.Errorf("profiles[%d]: %w", i, err)
		}
	}

	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
