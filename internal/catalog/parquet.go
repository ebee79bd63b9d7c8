package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// ParquetWriter implements Writer by writing run and asset tables as local
// parquet files, one file per run per table. The layout mirrors a lakehouse
// directory convention: <dir>/runs/ and <dir>/assets/.
type ParquetWriter struct {
	dir string
}

var _ Writer = (*ParquetWriter)(nil)

// NewParquetWriter creates the catalog directory layout.
func NewParquetWriter(dir string) (*ParquetWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("parquet catalog requires a directory")
	}
	for _, sub := range []string{"runs", "assets"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}
	return &ParquetWriter{dir: dir}, nil
}

// RecordRun writes the run summary as a single-row parquet file.
func (w *ParquetWriter) RecordRun(_ context.Context, rec RunRecord) error {
	path := filepath.Join(w.dir, "runs", fmt.Sprintf("run-%s.parquet", rec.RunID))
	return writeParquet(path, []RunRecord{rec})
}

// RecordAssets writes every asset row of the run into one parquet file.
func (w *ParquetWriter) RecordAssets(_ context.Context, runID string, assets []AssetRecord) error {
	if len(assets) == 0 {
		return nil
	}
	path := filepath.Join(w.dir, "assets", fmt.Sprintf("run-%s.parquet", runID))
	return writeParquet(path, assets)
}

func (w *ParquetWriter) Close() error { return nil }

// writeParquet writes rows to a temp file and renames it into place so
// readers never observe partial files.
func writeParquet[T any](path string, rows []T) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}

	pw := parquet.NewGenericWriter[T](f, parquet.Compression(&parquet.Snappy))
	if _, err := pw.Write(rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("close parquet writer: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close parquet file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename parquet file: %w", err)
	}
	return nil
}
