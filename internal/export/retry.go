package export

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy decides whether and when to retry a failed attempt. It is
// stateless: the delay is a pure function of the attempt count, so the same
// policy value is safely shared across workers.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int

	// jitter returns a value in [0,1); overridden in tests.
	jitter func() float64
}

// policyFor derives a retry policy from an operation timeout: delays start
// at a tenth of the timeout and never exceed it. Resolution retries pass
// the job's API timeout, download retries the transfer timeout.
func policyFor(timeout time.Duration, maxRetries int) RetryPolicy {
	return RetryPolicy{
		BaseDelay:  timeout / 10,
		MaxDelay:   timeout,
		MaxRetries: maxRetries,
	}
}

// NextDelay returns the backoff before attempt+1, or false when the budget
// is exhausted. The delay doubles per attempt with ±25% jitter.
func (p RetryPolicy) NextDelay(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxRetries {
		return 0, false
	}

	delay := p.BaseDelay
	for i := 0; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	randFloat := rand.Float64
	if p.jitter != nil {
		randFloat = p.jitter
	}
	jitter := float64(delay) * 0.25 * (randFloat()*2 - 1)
	delay += time.Duration(jitter)
	if delay < 0 {
		delay = 0
	}
	return delay, true
}

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
