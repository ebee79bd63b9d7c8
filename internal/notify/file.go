package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/drafthaus/frame-exporter/internal/util"
)

// FileBackup saves run events to local files for audit.
type FileBackup struct {
	dir string
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string) (*FileBackup, error) {
	if dir == "" {
		dir = "./run-events"
	}

	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	return &FileBackup{dir: dir}, nil
}

// Save writes a run event to a local JSON file named after the file key and
// run ID.
func (f *FileBackup) Save(evt *Event) error {
	filename := fmt.Sprintf("%s_%s.json", evt.Document.FileKey, evt.Run.RunID)
	path := filepath.Join(f.dir, filename)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// FileOnlyEmitter writes events to files without a webhook endpoint.
type FileOnlyEmitter struct {
	chain  *ChainTracker
	backup *FileBackup
}

var _ Emitter = (*FileOnlyEmitter)(nil)

// NewFileOnlyEmitter creates an emitter that only writes to local files.
func NewFileOnlyEmitter(cfg Config) (*FileOnlyEmitter, error) {
	chain, err := NewChainTracker(cfg.stateDir())
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	backup, err := NewFileBackup(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &FileOnlyEmitter{chain: chain, backup: backup}, nil
}

// EmitRun writes a chained run event to the backup directory.
func (e *FileOnlyEmitter) EmitRun(_ context.Context, evt *Event) error {
	chainKey := evt.Document.ChainKey()

	prevHash, err := e.chain.GetHead(chainKey)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	evt.Version = EventVersion
	evt.EventType = EventTypeRun
	evt.EventID = GenerateEventID()
	evt.Timestamp = time.Now().UTC()
	evt.SetChainHashes(prevHash)

	if err := e.backup.Save(evt); err != nil {
		return err
	}

	if err := e.chain.SetHead(chainKey, evt.Chain.EventHash); err != nil {
		slog.Warn("failed to update chain head", "error", err)
	}
	return nil
}

// Close releases resources.
func (e *FileOnlyEmitter) Close() error {
	return nil
}
