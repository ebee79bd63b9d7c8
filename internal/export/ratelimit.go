package export

import (
	"context"
	"sync"
	"time"

	"github.com/drafthaus/frame-exporter/internal/metrics"
)

const (
	governorBaseDelay = 1 * time.Second
	governorMaxDelay  = 60 * time.Second
)

// Governor is the process-wide rate-limit gate. When the service answers
// 429, every worker pauses until the window reopens; the pause is global so
// the pool does not thunder back in the instant one worker's timer fires.
//
// The resume deadline only moves forward while limit hits accumulate and is
// cleared only by a successful request.
type Governor struct {
	mu              sync.Mutex
	resumeNotBefore time.Time
	consecutiveHits int

	baseDelay time.Duration
	maxDelay  time.Duration
	now       func() time.Time
}

// NewGovernor creates a governor with default backoff bounds.
func NewGovernor() *Governor {
	return &Governor{
		baseDelay: governorBaseDelay,
		maxDelay:  governorMaxDelay,
		now:       time.Now,
	}
}

// ShouldPause returns the remaining global pause, zero when requests may
// proceed.
func (g *Governor) ShouldPause() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.resumeNotBefore.Sub(g.now())
	if d < 0 {
		return 0
	}
	return d
}

// Wait blocks until the pause window has passed or ctx is done. The window
// is re-read after every sleep because another worker may have pushed it
// further out.
func (g *Governor) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := g.ShouldPause()
		if d == 0 {
			return nil
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RecordLimitHit registers a 429. With a server hint the window extends to
// now+hint; without one it backs off exponentially from baseDelay, capped
// at maxDelay.
func (g *Governor) RecordLimitHit(retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delay := retryAfter
	if delay <= 0 {
		delay = g.baseDelay
		for i := 0; i < g.consecutiveHits && delay < g.maxDelay; i++ {
			delay *= 2
		}
		if delay > g.maxDelay {
			delay = g.maxDelay
		}
	}
	g.consecutiveHits++

	resume := g.now().Add(delay)
	if resume.After(g.resumeNotBefore) {
		g.resumeNotBefore = resume
	}
	if m := metrics.Get(); m != nil {
		m.SetRateLimitPause(g.resumeNotBefore.Sub(g.now()).Seconds())
	}
}

// RecordSuccess clears the restriction after any successful request.
func (g *Governor) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutiveHits = 0
	g.resumeNotBefore = time.Time{}
	if m := metrics.Get(); m != nil {
		m.SetRateLimitPause(0)
	}
}
