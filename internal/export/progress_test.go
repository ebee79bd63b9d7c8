package export

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerCountsConcurrentUpdates(t *testing.T) {
	// The callback runs under the tracker lock, so appending here is safe.
	var dones []int
	tr := NewTracker(100, func(done, total int, label string) {
		assert.Equal(t, 100, total)
		dones = append(dones, done)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				tr.Complete("ok")
			} else {
				tr.Fail("bad")
			}
		}(i)
	}
	wg.Wait()

	completed, failed, total := tr.Snapshot()
	assert.Equal(t, 50, completed)
	assert.Equal(t, 50, failed)
	assert.Equal(t, 100, total)

	// Every increment is delivered exactly once and in order, so the
	// done counts are 1..100 and done == total fires exactly once.
	require.Len(t, dones, 100)
	for i, done := range dones {
		assert.Equal(t, i+1, done)
	}
}

func TestTrackerNilCallback(t *testing.T) {
	tr := NewTracker(2, nil)
	tr.Complete("a")
	tr.Fail("b")

	completed, failed, total := tr.Snapshot()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, total)
}

func TestTrackerLabelsReachCallback(t *testing.T) {
	var labels []string
	tr := NewTracker(2, func(done, total int, label string) {
		labels = append(labels, label)
	})

	tr.Complete("Hero")
	tr.Fail("Footer")
	assert.Equal(t, []string{"Hero", "Footer"}, labels)
}
