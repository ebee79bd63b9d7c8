// Package checkpoint persists the outcome of completed export runs so that
// re-runs can skip files whose remote version has not changed.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/drafthaus/frame-exporter/internal/util"
)

// ErrNoState is returned when no checkpoint exists for a file.
var ErrNoState = errors.New("no checkpoint found")

// State captures the outcome of the last completed export of one file.
type State struct {
	FileKey     string    `json:"file_key"`
	FileVersion string    `json:"file_version"`
	RunID       string    `json:"run_id"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	CompletedAt time.Time `json:"completed_at"`
}

// Unchanged reports whether this checkpoint covers the given remote version
// completely. Runs that had failures never count as covered; a re-run must
// retry them.
func (s *State) Unchanged(version string) bool {
	return s != nil && s.FileVersion == version && s.Failed == 0
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the checkpoint for a file key.
	Load(ctx context.Context, fileKey string) (*State, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, st *State) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	if err := util.EnsureDir(cfg.Dir); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

// fileManager persists checkpoints to local files, one per file key.
type fileManager struct {
	dir string
}

func (m *fileManager) statePath(fileKey string) string {
	filename := fmt.Sprintf("checkpoint_%s.json", util.SanitizeFilename(fileKey))
	return filepath.Join(m.dir, filename)
}

// Load reads the checkpoint for a file key.
func (m *fileManager) Load(_ context.Context, fileKey string) (*State, error) {
	data, err := os.ReadFile(m.statePath(fileKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}
	return &st, nil
}

// Save persists the checkpoint atomically.
func (m *fileManager) Save(_ context.Context, st *State) error {
	path := m.statePath(st.FileKey)

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}
	return nil
}

// noopManager is used when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(_ context.Context, _ string) (*State, error) {
	return nil, ErrNoState
}

func (m *noopManager) Save(_ context.Context, _ *State) error {
	return nil
}
