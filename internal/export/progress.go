package export

import "sync"

// Tracker counts per-node outcomes and drives the progress callback. All
// updates go through one mutex so concurrent workers never lose an
// increment and the callback observes a non-decreasing done count that
// equals total exactly once, on the final item.
type Tracker struct {
	mu        sync.Mutex
	total     int
	completed int
	failed    int
	onUpdate  func(done, total int, label string)
}

// NewTracker creates a tracker for total items. onUpdate may be nil; when
// set it is invoked synchronously, under the tracker's lock, after every
// increment. It must be fast and must not call back into the tracker.
func NewTracker(total int, onUpdate func(done, total int, label string)) *Tracker {
	return &Tracker{total: total, onUpdate: onUpdate}
}

// Complete records one successful item.
func (t *Tracker) Complete(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed++
	if t.onUpdate != nil {
		t.onUpdate(t.completed+t.failed, t.total, label)
	}
}

// Fail records one permanently failed item.
func (t *Tracker) Fail(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failed++
	if t.onUpdate != nil {
		t.onUpdate(t.completed+t.failed, t.total, label)
	}
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() (completed, failed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed, t.failed, t.total
}
