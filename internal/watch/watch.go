// Package watch polls a document's version and triggers export runs when
// it moves.
package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/drafthaus/frame-exporter/internal/design"
	"github.com/drafthaus/frame-exporter/internal/logging"
)

// MetadataService is the slice of the design-file API the watcher needs.
type MetadataService interface {
	GetFileMetadata(ctx context.Context, fileKey string) (*design.File, error)
}

// RunFunc is invoked with the changed file's metadata. A returned error
// leaves the version unacknowledged, so the next tick tries again.
type RunFunc func(ctx context.Context, file *design.File) error

// Watcher polls one file on a fixed interval. It keeps no state beyond
// the last acknowledged version; restarts simply export once more.
type Watcher struct {
	svc      MetadataService
	fileKey  string
	interval time.Duration
	run      RunFunc
	log      *slog.Logger

	lastVersion string
}

// New creates a watcher for fileKey. A zero interval defaults to a
// minute.
func New(svc MetadataService, fileKey string, interval time.Duration, run RunFunc) *Watcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Watcher{
		svc:      svc,
		fileKey:  fileKey,
		interval: interval,
		run:      run,
		log:      logging.Component("watcher").With("file_key", fileKey),
	}
}

// Run polls until ctx is done. The first poll happens immediately and
// always counts as a change, so a fresh watch exports once up front.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("watching for changes", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	meta, err := w.svc.GetFileMetadata(ctx, w.fileKey)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.log.Warn("version probe failed", "error", err)
		return
	}

	if meta.Version == w.lastVersion {
		w.log.Debug("version unchanged", "version", meta.Version)
		return
	}

	w.log.Info("version changed", "from", w.lastVersion, "to", meta.Version)
	if err := w.run(ctx, meta); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.log.Error("triggered run failed", "error", err)
		return
	}
	w.lastVersion = meta.Version
}
