// Package catalog records export lineage so downstream consumers can
// discover what each run produced without scanning the asset store.
package catalog

import (
	"context"
	"fmt"
	"time"
)

// Config selects and configures the catalog backend.
type Config struct {
	Backend     string // "none" | "postgres" | "parquet"
	PostgresDSN string
	Dir         string // parquet backend output directory
}

// RunRecord describes one completed export run.
type RunRecord struct {
	RunID           string    `parquet:"run_id"`
	FileKey         string    `parquet:"file_key"`
	FileName        string    `parquet:"file_name"`
	FileVersion     string    `parquet:"file_version"`
	Strategy        string    `parquet:"strategy"`
	Total           int32     `parquet:"total"`
	Succeeded       int32     `parquet:"succeeded"`
	Failed          int32     `parquet:"failed"`
	DurationMs      int64     `parquet:"duration_ms"`
	ProducerVersion string    `parquet:"producer_version"`
	ProducerGitSHA  string    `parquet:"producer_git_sha"`
	StartedAt       time.Time `parquet:"started_at,timestamp(millisecond)"`
	CompletedAt     time.Time `parquet:"completed_at,timestamp(millisecond)"`
}

// AssetRecord describes one exported asset within a run.
type AssetRecord struct {
	RunID      string    `parquet:"run_id"`
	FileKey    string    `parquet:"file_key"`
	NodeID     string    `parquet:"node_id"`
	Name       string    `parquet:"name"`
	NodePath   string    `parquet:"node_path"`
	File       string    `parquet:"file"`
	Format     string    `parquet:"format"`
	Scale      float64   `parquet:"scale"`
	ByteSize   int64     `parquet:"byte_size"`
	Checksum   string    `parquet:"checksum"`
	ExportedAt time.Time `parquet:"exported_at,timestamp(millisecond)"`
}

// Writer persists run lineage. Implementations must be safe to call from a
// single goroutine at the end of a run; they are not used concurrently.
type Writer interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	RecordAssets(ctx context.Context, runID string, assets []AssetRecord) error
	Close() error
}

// NewWriter returns the catalog writer for the configured backend. An empty
// backend means lineage recording is disabled.
func NewWriter(ctx context.Context, cfg Config) (Writer, error) {
	switch cfg.Backend {
	case "", "none":
		return noopWriter{}, nil
	case "postgres":
		return NewPostgresWriter(ctx, cfg.PostgresDSN)
	case "parquet":
		return NewParquetWriter(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown catalog backend: %q", cfg.Backend)
	}
}

type noopWriter struct{}

func (noopWriter) RecordRun(context.Context, RunRecord) error { return nil }

func (noopWriter) RecordAssets(context.Context, string, []AssetRecord) error { return nil }

func (noopWriter) Close() error { return nil }
