package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/drafthaus/frame-exporter/internal/design"
	"github.com/drafthaus/frame-exporter/internal/metrics"
)

// Scheduler partitions nodes into fixed-size groups and issues one bulk
// resolve call per group, guarded by the governor and retry policy.
// Resolution is sequential; the parallelism lives downstream in the
// dispatcher, which consumes batches as they resolve.
type Scheduler struct {
	svc       Service
	gov       *Governor
	policy    RetryPolicy
	fileKey   string
	batchSize int
	log       *slog.Logger
}

// ResolveBatches streams one Batch per id group. The channel is unbuffered
// so downloads start as soon as the first batch resolves, and closes when
// every group has been attempted or ctx is done.
func (s *Scheduler) ResolveBatches(ctx context.Context, groups []RenderGroup) <-chan Batch {
	out := make(chan Batch)
	go func() {
		defer close(out)
		for _, g := range groups {
			for start := 0; start < len(g.Nodes); start += s.batchSize {
				end := start + s.batchSize
				if end > len(g.Nodes) {
					end = len(g.Nodes)
				}

				resolved, failed := s.resolve(ctx, g.Nodes[start:end], g.Options, 0)
				select {
				case out <- Batch{Resolved: resolved, Failed: failed}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// resolve issues one bulk render call for nodes, retrying transient
// failures within the attempt budget. Ids the server leaves unresolved are
// bisected into halves and retried independently, carrying the attempt
// count forward; whatever survives the budget is reported as a terminal
// failure so it never reaches the download pool.
func (s *Scheduler) resolve(ctx context.Context, nodes []NodeRef, opts design.RenderOptions, attempt int) ([]ResolvedNode, []Result) {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}

	var urls map[string]string
	for {
		if err := s.gov.Wait(ctx); err != nil {
			return nil, nil
		}

		start := time.Now()
		u, err := s.svc.RenderImages(ctx, s.fileKey, ids, opts)
		if m := metrics.Get(); m != nil {
			m.IncResolveCalls(metrics.Labels{FileKey: s.fileKey})
			m.ObserveResolveDuration(metrics.Labels{FileKey: s.fileKey}, time.Since(start).Seconds())
		}
		if err == nil {
			urls = u
			break
		}

		switch {
		case design.IsRateLimit(err):
			// Rate limits pause everyone and never consume retry budget.
			s.gov.RecordLimitHit(design.RetryAfterHint(err))
			if m := metrics.Get(); m != nil {
				m.IncRateLimitHits(metrics.Labels{Operation: "resolve"})
			}
			s.log.Warn("rate limited during resolution", "ids", len(ids))
			continue

		case design.IsTransient(err):
			delay, ok := s.policy.NextDelay(attempt)
			if !ok {
				s.log.Error("resolution failed after retries", "ids", len(ids), "error", err)
				return nil, failAll(nodes, opts, fmt.Errorf("resolution failed: %w", err))
			}
			if m := metrics.Get(); m != nil {
				m.IncRetryAttempts(metrics.Labels{Operation: "resolve"})
			}
			s.log.Warn("resolution attempt failed, retrying",
				"attempt", attempt+1, "delay", delay, "error", err)
			if err := sleep(ctx, delay); err != nil {
				return nil, nil
			}
			attempt++
			continue

		default:
			s.log.Error("resolution failed", "ids", len(ids), "error", err)
			return nil, failAll(nodes, opts, fmt.Errorf("resolution failed: %w", err))
		}
	}
	s.gov.RecordSuccess()

	resolved := make([]ResolvedNode, 0, len(nodes))
	var missing []NodeRef
	for _, n := range nodes {
		if url, ok := urls[n.ID]; ok && url != "" {
			resolved = append(resolved, ResolvedNode{Node: n, URL: url, Options: opts})
		} else {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return resolved, nil
	}

	delay, ok := s.policy.NextDelay(attempt)
	if !ok {
		s.log.Error("nodes never resolved", "count", len(missing))
		return resolved, failAll(missing, opts, errResolutionFailed)
	}
	if m := metrics.Get(); m != nil {
		m.IncRetryAttempts(metrics.Labels{Operation: "resolve"})
	}
	s.log.Warn("partial resolution, bisecting",
		"resolved", len(resolved), "missing", len(missing), "attempt", attempt+1)
	if err := sleep(ctx, delay); err != nil {
		return resolved, nil
	}

	if len(missing) == 1 {
		r, f := s.resolve(ctx, missing, opts, attempt+1)
		return append(resolved, r...), f
	}

	mid := len(missing) / 2
	left, leftFailed := s.resolve(ctx, missing[:mid], opts, attempt+1)
	right, rightFailed := s.resolve(ctx, missing[mid:], opts, attempt+1)

	resolved = append(resolved, left...)
	resolved = append(resolved, right...)
	return resolved, append(leftFailed, rightFailed...)
}

var errResolutionFailed = errors.New("resolution failed")

func failAll(nodes []NodeRef, opts design.RenderOptions, err error) []Result {
	out := make([]Result, len(nodes))
	for i, n := range nodes {
		out[i] = Result{Node: n, Options: opts, Err: err}
	}
	return out
}
