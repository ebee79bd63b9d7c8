package catalog

import (
	"context"
	"testing"
	"time"
)

func TestNewWriterBackends(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty backend", cfg: Config{}, wantErr: false},
		{name: "none backend", cfg: Config{Backend: "none"}, wantErr: false},
		{name: "parquet backend", cfg: Config{Backend: "parquet", Dir: t.TempDir()}, wantErr: false},
		{name: "parquet without dir", cfg: Config{Backend: "parquet"}, wantErr: true},
		{name: "unknown backend", cfg: Config{Backend: "duckdb"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWriter(ctx, tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got writer %T", w)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewWriter failed: %v", err)
			}
			defer w.Close()
		})
	}
}

func TestNoopWriter(t *testing.T) {
	ctx := context.Background()

	w, err := NewWriter(ctx, Config{Backend: "none"})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	rec := RunRecord{RunID: "r1", FileKey: "abc", CompletedAt: time.Now()}
	if err := w.RecordRun(ctx, rec); err != nil {
		t.Errorf("RecordRun returned error: %v", err)
	}
	if err := w.RecordAssets(ctx, "r1", []AssetRecord{{NodeID: "1:2"}}); err != nil {
		t.Errorf("RecordAssets returned error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}
