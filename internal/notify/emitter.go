package notify

import (
	"context"
	"log/slog"
)

// Config controls notification emission.
type Config struct {
	Enabled   bool
	Endpoint  string // webhook URL; empty means file-only
	BackupDir string // local copies of every emitted event
	StateDir  string // chain head state; defaults to BackupDir
}

func (c Config) stateDir() string {
	if c.StateDir != "" {
		return c.StateDir
	}
	return c.BackupDir
}

// Emitter delivers run events.
type Emitter interface {
	EmitRun(ctx context.Context, evt *Event) error
	Close() error
}

// NewEmitter creates an appropriate emitter based on configuration. Setup
// failures degrade to a weaker emitter rather than aborting; the export
// itself matters more than its notification.
func NewEmitter(cfg Config) Emitter {
	if !cfg.Enabled {
		return &noopEmitter{}
	}

	if cfg.Endpoint != "" {
		emitter, err := NewHTTPEmitter(cfg)
		if err != nil {
			slog.Warn("failed to create webhook emitter, falling back to file-only", "error", err)
			return newFileOnly(cfg)
		}
		slog.Info("notifying webhook on run completion", "endpoint", cfg.Endpoint)
		return emitter
	}

	return newFileOnly(cfg)
}

func newFileOnly(cfg Config) Emitter {
	emitter, err := NewFileOnlyEmitter(cfg)
	if err != nil {
		slog.Warn("failed to create file emitter, notifications disabled", "error", err)
		return &noopEmitter{}
	}
	slog.Info("writing run events to backup dir", "dir", cfg.BackupDir)
	return emitter
}

// noopEmitter discards all events.
type noopEmitter struct{}

func (n *noopEmitter) EmitRun(_ context.Context, _ *Event) error { return nil }

func (n *noopEmitter) Close() error { return nil }
