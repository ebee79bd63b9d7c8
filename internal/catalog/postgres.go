package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
}

var _ Writer = (*PostgresWriter)(nil)

// NewPostgresWriter connects to PostgreSQL and ensures the catalog schema
// exists.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	slog.Info("connected to PostgreSQL catalog")
	return &PostgresWriter{pool: pool}, nil
}

// RecordRun upserts the run summary. Re-running an export under the same run
// ID replaces the earlier totals.
func (w *PostgresWriter) RecordRun(ctx context.Context, rec RunRecord) error {
	query := `
		INSERT INTO export_runs (
			run_id, file_key, file_name, file_version, strategy,
			total, succeeded, failed, duration_ms,
			producer_version, producer_git_sha, started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id)
		DO UPDATE SET
			total = EXCLUDED.total,
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed,
			duration_ms = EXCLUDED.duration_ms,
			completed_at = EXCLUDED.completed_at
	`

	var gitSHA *string
	if rec.ProducerGitSHA != "" {
		gitSHA = &rec.ProducerGitSHA
	}

	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		rec.FileKey,
		rec.FileName,
		rec.FileVersion,
		rec.Strategy,
		rec.Total,
		rec.Succeeded,
		rec.Failed,
		rec.DurationMs,
		rec.ProducerVersion,
		gitSHA,
		rec.StartedAt,
		rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecordAssets upserts asset rows for a run in a single batched round trip.
func (w *PostgresWriter) RecordAssets(ctx context.Context, runID string, assets []AssetRecord) error {
	if len(assets) == 0 {
		return nil
	}

	query := `
		INSERT INTO export_assets (
			run_id, file_key, node_id, name, node_path,
			file, format, scale, byte_size, checksum, exported_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, node_id, format, scale)
		DO UPDATE SET
			file = EXCLUDED.file,
			byte_size = EXCLUDED.byte_size,
			checksum = EXCLUDED.checksum,
			exported_at = EXCLUDED.exported_at
	`

	batch := &pgx.Batch{}
	for _, a := range assets {
		batch.Queue(query,
			runID, a.FileKey, a.NodeID, a.Name, a.NodePath,
			a.File, a.Format, a.Scale, a.ByteSize, a.Checksum, a.ExportedAt,
		)
	}

	br := w.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range assets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("record assets: %w", err)
		}
	}
	return nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
