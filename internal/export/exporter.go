package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/drafthaus/frame-exporter/internal/catalog"
	"github.com/drafthaus/frame-exporter/internal/checkpoint"
	"github.com/drafthaus/frame-exporter/internal/design"
	"github.com/drafthaus/frame-exporter/internal/logging"
	"github.com/drafthaus/frame-exporter/internal/metrics"
	"github.com/drafthaus/frame-exporter/internal/notify"
	"github.com/drafthaus/frame-exporter/internal/profile"
	"github.com/drafthaus/frame-exporter/internal/storage"
)

var (
	// ErrNothingExported is returned when a run finishes without a single
	// successful asset. The accompanying report still describes every
	// per-node failure.
	ErrNothingExported = errors.New("no assets were exported")

	// ErrFileUnchanged is returned when skip-unchanged is requested and
	// the file version matches the last fully clean run.
	ErrFileUnchanged = errors.New("file unchanged since last export")
)

// Options wires an Exporter. Service is required; the rest default to
// doing nothing when nil.
type Options struct {
	Service Service

	// Store receives the exported assets and the run manifest. When nil,
	// each run writes to a local store rooted at the job's output
	// directory.
	Store       storage.AssetStore
	Catalog     catalog.Writer
	Notifier    notify.Emitter
	Checkpoints checkpoint.Manager
	Profiles    *profile.Router

	// OnProgress receives live per-node progress. It is called from
	// worker goroutines and must be fast.
	OnProgress func(done, total int, label string)

	// StrictCatalog and StrictNotify promote catalog and notification
	// failures from warnings to run errors.
	StrictCatalog bool
	StrictNotify  bool
}

// Exporter coordinates an export run end to end: enumerate the document,
// resolve download URLs in batches, drain the download pool, then persist
// the manifest and side records.
type Exporter struct {
	svc         Service
	store       storage.AssetStore
	catalog     catalog.Writer
	notifier    notify.Emitter
	checkpoints checkpoint.Manager
	profiles    *profile.Router
	onProgress  func(done, total int, label string)

	strictCatalog bool
	strictNotify  bool
}

// New validates the wiring and returns an Exporter.
func New(opts Options) (*Exporter, error) {
	if opts.Service == nil {
		return nil, errors.New("service is required")
	}
	return &Exporter{
		svc:           opts.Service,
		store:         opts.Store,
		catalog:       opts.Catalog,
		notifier:      opts.Notifier,
		checkpoints:   opts.Checkpoints,
		profiles:      opts.Profiles,
		onProgress:    opts.OnProgress,
		strictCatalog: opts.StrictCatalog,
		strictNotify:  opts.StrictNotify,
	}, nil
}

// Export runs one job. The returned error is non-nil only when the run as
// a whole failed: enumeration errors, cancellation, a zero-success run, or
// a finalization failure. Per-node download failures live in the report.
func (e *Exporter) Export(ctx context.Context, job Job) (*Report, error) {
	job = job.withDefaults()
	if err := job.Validate(); err != nil {
		return nil, err
	}

	filter, err := NewPathFilter(job.Include, job.Exclude)
	if err != nil {
		return nil, err
	}
	store, err := e.runStore(job)
	if err != nil {
		return nil, err
	}

	runID := newRunID()
	log := logging.RunLogger(runID, job.FileKey)
	started := time.Now()

	if job.SkipUnchanged && e.checkpoints != nil {
		if skip := e.unchanged(ctx, job.FileKey, log); skip {
			return nil, ErrFileUnchanged
		}
	}

	file, nodes, err := NewEnumerator(e.svc, job.Types, filter).Enumerate(ctx, job.FileKey)
	if err != nil {
		return nil, err
	}
	log.Info("enumeration complete",
		"file", file.Name, "version", file.Version, "nodes", len(nodes))

	report := &Report{
		RunID:       runID,
		FileKey:     job.FileKey,
		FileName:    file.Name,
		FileVersion: file.Version,
		Strategy:    job.Strategy,
		Total:       len(nodes),
		StartedAt:   started,
	}

	if len(nodes) == 0 {
		report.Duration = time.Since(started)
		log.Warn("no exportable nodes matched")
		return report, ErrNothingExported
	}

	gov := NewGovernor()
	tracker := NewTracker(len(nodes), e.onProgress)
	groups := buildRenderGroups(nodes, e.profiles, job)

	sched := &Scheduler{
		svc:       e.svc,
		gov:       gov,
		policy:    policyFor(job.APITimeout, job.MaxRetries),
		fileKey:   job.FileKey,
		batchSize: job.BatchSize,
		log:       log,
	}
	disp := &Dispatcher{
		svc:     e.svc,
		store:   store,
		gov:     gov,
		policy:  policyFor(job.TransferTimeout, job.MaxRetries),
		tracker: tracker,
		workers: job.Workers,
		fileKey: job.FileKey,
		log:     log,
	}

	for res := range disp.Run(ctx, sched.ResolveBatches(ctx, groups)) {
		if res.Err != nil {
			report.Failed = append(report.Failed, res)
		} else {
			report.Succeeded = append(report.Succeeded, res)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report.Duration = time.Since(started)

	if v := ValidateReport(report); !v.Passed {
		for _, msg := range v.Errors {
			log.Error("report validation failed", "error", msg)
		}
	}

	if m := metrics.Get(); m != nil {
		m.SetLastRunAssets(job.FileKey, float64(len(report.Succeeded)), float64(len(report.Failed)))
	}
	log.Info("export complete",
		"total", report.Total,
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"bytes", report.Bytes(),
		"duration", report.Duration)

	if err := e.finalize(ctx, store, file, report, log); err != nil {
		return report, err
	}
	if len(report.Succeeded) == 0 {
		return report, ErrNothingExported
	}
	return report, nil
}

// runStore picks the destination for one run. A wired store wins;
// otherwise the job's output directory backs a local store.
func (e *Exporter) runStore(job Job) (storage.AssetStore, error) {
	if e.store != nil {
		return e.store, nil
	}
	if job.OutputDir == "" {
		return nil, errors.New("job requires an output directory when no store is wired")
	}
	return storage.NewLocalStore(job.OutputDir)
}

// unchanged reports whether the file version still matches the last clean
// run. Probe failures never block the export; the full run decides.
func (e *Exporter) unchanged(ctx context.Context, fileKey string, log *slog.Logger) bool {
	meta, err := e.svc.GetFileMetadata(ctx, fileKey)
	if err != nil {
		log.Warn("metadata probe failed, running full export", "error", err)
		return false
	}
	state, err := e.checkpoints.Load(ctx, fileKey)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNoState) {
			log.Warn("checkpoint load failed, running full export", "error", err)
		}
		return false
	}
	if state.Unchanged(meta.Version) {
		log.Info("file unchanged since last clean run", "version", meta.Version)
		return true
	}
	return false
}

// finalize persists the run manifest and the optional side records. The
// manifest is part of the export itself and its failure fails the run;
// catalog and notification failures are warnings unless strict.
func (e *Exporter) finalize(ctx context.Context, store storage.AssetStore, file *design.File, report *Report, log *slog.Logger) error {
	if err := store.WriteManifest(ctx, storage.ManifestKey, buildManifest(report, file)); err != nil {
		if m := metrics.Get(); m != nil {
			m.IncStorageErrors(metrics.Labels{Operation: "write_manifest"})
		}
		return fmt.Errorf("write manifest: %w", err)
	}

	if e.catalog != nil {
		if err := e.recordCatalog(ctx, report); err != nil {
			if m := metrics.Get(); m != nil {
				m.IncCatalogErrors()
			}
			if e.strictCatalog {
				return fmt.Errorf("record run in catalog: %w", err)
			}
			log.Warn("catalog write failed", "error", err)
		}
	}

	if e.notifier != nil {
		event := buildEvent(report, file, store.URI(storage.ManifestKey))
		if err := e.notifier.EmitRun(ctx, event); err != nil {
			if m := metrics.Get(); m != nil {
				m.IncNotifyErrors()
			}
			if e.strictNotify {
				return fmt.Errorf("emit run event: %w", err)
			}
			log.Warn("run notification failed", "error", err)
		}
	}

	// Only a fully clean run advances the checkpoint, so a re-run after
	// partial failure still sees the file as dirty.
	if e.checkpoints != nil && report.Total > 0 && len(report.Failed) == 0 {
		state := &checkpoint.State{
			FileKey:     report.FileKey,
			FileVersion: report.FileVersion,
			RunID:       report.RunID,
			Total:       report.Total,
			Succeeded:   len(report.Succeeded),
			Failed:      0,
			CompletedAt: time.Now().UTC(),
		}
		if err := e.checkpoints.Save(ctx, state); err != nil {
			log.Warn("checkpoint save failed", "error", err)
		}
	}
	return nil
}

func (e *Exporter) recordCatalog(ctx context.Context, report *Report) error {
	run := catalog.RunRecord{
		RunID:           report.RunID,
		FileKey:         report.FileKey,
		FileName:        report.FileName,
		FileVersion:     report.FileVersion,
		Strategy:        string(report.Strategy),
		Total:           int32(report.Total),
		Succeeded:       int32(len(report.Succeeded)),
		Failed:          int32(len(report.Failed)),
		DurationMs:      report.Duration.Milliseconds(),
		ProducerVersion: Version,
		ProducerGitSHA:  releaseSHA(),
		StartedAt:       report.StartedAt.UTC(),
		CompletedAt:     report.StartedAt.Add(report.Duration).UTC(),
	}
	if err := e.catalog.RecordRun(ctx, run); err != nil {
		return err
	}

	exportedAt := time.Now().UTC()
	assets := make([]catalog.AssetRecord, 0, len(report.Succeeded))
	for _, res := range report.Succeeded {
		assets = append(assets, catalog.AssetRecord{
			RunID:      report.RunID,
			FileKey:    report.FileKey,
			NodeID:     res.Node.ID,
			Name:       res.Node.Name,
			NodePath:   res.Node.PathString(),
			File:       res.Path,
			Format:     res.Options.Format,
			Scale:      res.Options.Scale,
			ByteSize:   res.Bytes,
			Checksum:   res.Checksum,
			ExportedAt: exportedAt,
		})
	}
	return e.catalog.RecordAssets(ctx, report.RunID, assets)
}

// buildRenderGroups routes each node through the profile rules and groups
// nodes sharing render options, preserving enumeration order within each
// group. Without rules every node lands in one group using job defaults.
func buildRenderGroups(nodes []NodeRef, router *profile.Router, job Job) []RenderGroup {
	if router == nil || len(router.Rules()) == 0 {
		return []RenderGroup{{
			Options: design.RenderOptions{Format: job.Format, Scale: job.Scale},
			Nodes:   nodes,
		}}
	}

	type optkey struct {
		format string
		scale  float64
	}
	index := make(map[optkey]int)
	var groups []RenderGroup
	for _, n := range nodes {
		format, scale := router.Resolve(n.PathString(), job.Format, job.Scale)
		k := optkey{format, scale}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, RenderGroup{
				Options: design.RenderOptions{Format: format, Scale: scale},
			})
		}
		groups[i].Nodes = append(groups[i].Nodes, n)
	}
	return groups
}

func buildManifest(report *Report, file *design.File) *storage.Manifest {
	m := &storage.Manifest{
		Run: storage.RunInfo{
			ID:         report.RunID,
			Strategy:   string(report.Strategy),
			Total:      report.Total,
			Succeeded:  len(report.Succeeded),
			Failed:     len(report.Failed),
			DurationMs: report.Duration.Milliseconds(),
		},
		Document: storage.DocumentInfo{
			FileKey:      report.FileKey,
			Name:         file.Name,
			Version:      file.Version,
			LastModified: file.LastModified,
		},
		Assets: make([]storage.AssetInfo, 0, len(report.Succeeded)),
		Producer: storage.ProducerInfo{
			Name:    ProducerName,
			Version: Version,
			GitSHA:  releaseSHA(),
		},
		CreatedAt: time.Now().UTC(),
	}
	for _, res := range report.Succeeded {
		m.Assets = append(m.Assets, storage.AssetInfo{
			NodeID:   res.Node.ID,
			Name:     res.Node.Name,
			NodePath: res.Node.PathString(),
			File:     res.Path,
			Format:   res.Options.Format,
			Checksum: res.Checksum,
			ByteSize: res.Bytes,
		})
	}
	for _, res := range report.Failed {
		m.Failures = append(m.Failures, storage.FailureInfo{
			NodeID: res.Node.ID,
			Name:   res.Node.Name,
			Reason: res.Err.Error(),
		})
	}
	return m
}

func buildEvent(report *Report, file *design.File, manifestURI string) *notify.Event {
	return &notify.Event{
		Run: notify.RunInfo{
			RunID:       report.RunID,
			Strategy:    string(report.Strategy),
			Total:       report.Total,
			Succeeded:   len(report.Succeeded),
			Failed:      len(report.Failed),
			Formats:     report.FormatCounts(),
			DurationMs:  report.Duration.Milliseconds(),
			ManifestURI: manifestURI,
		},
		Document: notify.DocumentInfo{
			FileKey:      report.FileKey,
			Name:         file.Name,
			Version:      file.Version,
			LastModified: file.LastModified,
		},
		Producer: notify.ProducerInfo{
			Name:    ProducerName,
			Version: Version,
			GitSHA:  releaseSHA(),
		},
	}
}

func newRunID() string {
	return "run_" + uuid.NewString()
}
