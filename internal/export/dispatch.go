package export

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drafthaus/frame-exporter/internal/design"
	"github.com/drafthaus/frame-exporter/internal/logging"
	"github.com/drafthaus/frame-exporter/internal/metrics"
	"github.com/drafthaus/frame-exporter/internal/storage"
	"github.com/drafthaus/frame-exporter/internal/util"
)

// Dispatcher drains the scheduler's batch stream through a fixed pool of
// download workers. Terminal resolution failures pass straight through to
// the result stream; resolved nodes become download tasks.
type Dispatcher struct {
	svc     Service
	store   storage.AssetStore
	gov     *Governor
	policy  RetryPolicy
	tracker *Tracker
	workers int
	fileKey string
	log     *slog.Logger

	inFlight atomic.Int64
}

// Run starts the worker pool and returns the result stream. The stream
// closes once every batch has been drained and every worker has exited.
func (d *Dispatcher) Run(ctx context.Context, batches <-chan Batch) <-chan Result {
	d.log.Info("download pool started", "workers", d.workers)

	tasks := make(chan Task, d.workers*2)
	results := make(chan Result, d.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.workerLoop(ctx, id, tasks, results)
		}(i)
	}

	// Feeder: unpacks batches into the task queue. Closing the task queue
	// releases the workers; the feeder's own result sends all happen
	// before that, so closing results after wg.Wait is safe.
	go func() {
		defer close(tasks)
		d.feed(ctx, batches, tasks, results)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

func (d *Dispatcher) feed(ctx context.Context, batches <-chan Batch, tasks chan<- Task, results chan<- Result) {
	names := newNamer()
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}

			for _, res := range batch.Failed {
				d.tracker.Fail(res.Node.Name)
				if m := metrics.Get(); m != nil {
					m.IncAssetsFailed(metrics.Labels{FileKey: d.fileKey})
				}
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}

			for _, rn := range batch.Resolved {
				task := Task{
					Node:      rn.Node,
					URL:       rn.URL,
					TargetKey: names.targetKey(rn),
					Options:   rn.Options,
				}
				if m := metrics.Get(); m != nil {
					m.SetQueueDepth(float64(len(tasks)))
				}
				select {
				case tasks <- task:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, workerID int, tasks <-chan Task, results chan<- Result) {
	log := logging.WorkerLogger(workerID)

	for task := range tasks {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res := d.processTask(ctx, log, task)
		if res.Err != nil {
			d.tracker.Fail(task.Node.Name)
			if m := metrics.Get(); m != nil {
				m.IncAssetsFailed(metrics.Labels{FileKey: d.fileKey, Format: task.Options.Format})
			}
		} else {
			d.tracker.Complete(task.Node.Name)
			if m := metrics.Get(); m != nil {
				m.IncAssetsExported(metrics.Labels{FileKey: d.fileKey, Format: task.Options.Format})
				m.ObserveAssetBytes(metrics.Labels{Format: task.Options.Format}, float64(res.Bytes))
			}
		}

		select {
		case results <- res:
		case <-ctx.Done():
			return
		}
	}
}

// processTask downloads one asset, retrying within the task's budget. Rate
// limits pause the whole pool via the governor and are re-attempted without
// consuming budget.
func (d *Dispatcher) processTask(ctx context.Context, log *slog.Logger, task Task) Result {
	start := time.Now()
	log = log.With("node_id", task.Node.ID, "file", task.TargetKey)

	for {
		if err := d.gov.Wait(ctx); err != nil {
			return Result{Node: task.Node, Options: task.Options, Err: err, Elapsed: time.Since(start)}
		}

		wr, err := d.download(ctx, task)
		if err == nil {
			d.gov.RecordSuccess()
			elapsed := time.Since(start)
			if m := metrics.Get(); m != nil {
				m.ObserveDownloadDuration(metrics.Labels{FileKey: d.fileKey, Format: task.Options.Format}, elapsed.Seconds())
			}
			log.Debug("asset exported", "bytes", wr.Bytes, "attempts", task.Attempt+1)
			return Result{
				Node:     task.Node,
				Options:  task.Options,
				Path:     wr.Key,
				Bytes:    wr.Bytes,
				Checksum: wr.Checksum,
				Elapsed:  elapsed,
			}
		}

		switch {
		case design.IsRateLimit(err):
			d.gov.RecordLimitHit(design.RetryAfterHint(err))
			if m := metrics.Get(); m != nil {
				m.IncRateLimitHits(metrics.Labels{Operation: "download"})
			}
			log.Warn("rate limited, pausing pool")
			continue

		case design.IsTransient(err):
			delay, ok := d.policy.NextDelay(task.Attempt)
			if ok {
				if m := metrics.Get(); m != nil {
					m.IncRetryAttempts(metrics.Labels{Operation: "download"})
				}
				log.Warn("download failed, retrying",
					"attempt", task.Attempt+1, "delay", delay, "error", err)
				if err := sleep(ctx, delay); err != nil {
					return Result{Node: task.Node, Options: task.Options, Err: err, Elapsed: time.Since(start)}
				}
				task.Attempt++
				continue
			}
		}

		log.Error("download failed permanently", "attempts", task.Attempt+1, "error", err)
		return Result{
			Node:    task.Node,
			Options: task.Options,
			Err:     fmt.Errorf("failed after %d attempts: %w", task.Attempt+1, err),
			Elapsed: time.Since(start),
		}
	}
}

// download performs one transfer attempt, streaming the body to storage.
// Errors while reading the body surface inside the store write; they are
// classified transient so the attempt gets its retry budget.
func (d *Dispatcher) download(ctx context.Context, task Task) (*storage.WriteResult, error) {
	if m := metrics.Get(); m != nil {
		m.SetInFlightDownloads(float64(d.inFlight.Add(1)))
		defer func() { m.SetInFlightDownloads(float64(d.inFlight.Add(-1))) }()
	}

	body, err := d.svc.Download(ctx, task.URL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	wr, err := d.store.Write(ctx, task.TargetKey, body)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.IncStorageErrors(metrics.Labels{Operation: "write_asset"})
		}
		return nil, design.NewTransientError("store asset", err)
	}
	return wr, nil
}

// namer assigns deterministic target keys. The first node to claim a file
// name keeps it bare; later nodes whose sanitized name collides get a short
// node-id suffix. Enumeration order is deterministic, so re-running the
// same job assigns identical keys and overwrites instead of duplicating.
type namer struct {
	taken map[string]bool
}

func newNamer() *namer {
	return &namer{taken: make(map[string]bool)}
}

func (n *namer) targetKey(rn ResolvedNode) string {
	key := assetFileName(rn.Node.Name, "", rn.Options)
	if n.taken[key] {
		key = assetFileName(rn.Node.Name, util.SanitizeFilename(rn.Node.ID), rn.Options)
	}
	n.taken[key] = true
	return key
}

func assetFileName(name, idSuffix string, opts design.RenderOptions) string {
	base := util.SanitizeFilename(name)
	if idSuffix != "" {
		base += "-" + idSuffix
	}
	if opts.Scale != 1 {
		base += "@" + strconv.FormatFloat(opts.Scale, 'f', -1, 64) + "x"
	}
	return base + "." + opts.Format
}
