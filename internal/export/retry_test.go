package export

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// centeredJitter makes NextDelay deterministic: 0.5 maps to zero jitter.
func centeredJitter() float64 { return 0.5 }

func TestRetryPolicyBudget(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxRetries: 5, jitter: centeredJitter}

	for attempt := 0; attempt < 5; attempt++ {
		_, ok := p.NextDelay(attempt)
		assert.True(t, ok, "attempt %d should have budget", attempt)
	}

	_, ok := p.NextDelay(5)
	assert.False(t, ok, "budget exhausted at attempt == MaxRetries")
}

func TestRetryPolicyDoublesAndCaps(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxRetries: 10, jitter: centeredJitter}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // 32s capped
		30 * time.Second,
	}
	for attempt, w := range want {
		d, ok := p.NextDelay(attempt)
		require.True(t, ok)
		assert.Equal(t, w, d, "attempt %d", attempt)
	}
}

func TestRetryPolicyJitterBounds(t *testing.T) {
	low := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxRetries: 1, jitter: func() float64 { return 0 }}
	d, ok := low.NextDelay(0)
	require.True(t, ok)
	assert.Equal(t, 750*time.Millisecond, d)

	high := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxRetries: 1, jitter: func() float64 { return 1 }}
	d, ok = high.NextDelay(0)
	require.True(t, ok)
	assert.Equal(t, 1250*time.Millisecond, d)

	// The default source stays within the same bounds.
	def := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxRetries: 1}
	for i := 0; i < 200; i++ {
		d, ok := def.NextDelay(0)
		require.True(t, ok)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestPolicyForDerivesFromTimeout(t *testing.T) {
	p := policyFor(30*time.Second, 5)
	assert.Equal(t, 3*time.Second, p.BaseDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.Equal(t, 5, p.MaxRetries)
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)

	assert.NoError(t, sleep(context.Background(), 0))
	assert.NoError(t, sleep(context.Background(), time.Millisecond))
}
