package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drafthaus/frame-exporter/internal/design"
	"github.com/drafthaus/frame-exporter/internal/storage"
)

func payload() io.ReadCloser {
	return io.NopCloser(strings.NewReader("imagebytes"))
}

func resolvedRefs(n int) []ResolvedNode {
	out := make([]ResolvedNode, n)
	for i := range out {
		out[i] = ResolvedNode{
			Node:    NodeRef{ID: fmt.Sprintf("1:%d", i), Name: fmt.Sprintf("Frame %d", i)},
			URL:     fmt.Sprintf("https://cdn.test/1-%d", i),
			Options: design.RenderOptions{Format: "png", Scale: 1},
		}
	}
	return out
}

func singleBatch(resolved []ResolvedNode, failed ...Result) <-chan Batch {
	ch := make(chan Batch, 1)
	ch <- Batch{Resolved: resolved, Failed: failed}
	close(ch)
	return ch
}

func newTestDispatcher(t *testing.T, svc Service, workers int, policy RetryPolicy, total int) (*Dispatcher, *Tracker) {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	tracker := NewTracker(total, nil)
	return &Dispatcher{
		svc:     svc,
		store:   store,
		gov:     NewGovernor(),
		policy:  policy,
		tracker: tracker,
		workers: workers,
		fileKey: "key1",
		log:     discardLog(),
	}, tracker
}

func drain(ch <-chan Result) []Result {
	var out []Result
	for res := range ch {
		out = append(out, res)
	}
	return out
}

func TestDispatcherDownloadsEverything(t *testing.T) {
	svc := &fakeService{
		download: func(ctx context.Context, url string) (io.ReadCloser, error) {
			return payload(), nil
		},
	}
	d, tracker := newTestDispatcher(t, svc, 4, quickPolicy(2), 20)

	results := drain(d.Run(context.Background(), singleBatch(resolvedRefs(20))))

	require.Len(t, results, 20)
	for _, res := range results {
		assert.NoError(t, res.Err)
		assert.NotEmpty(t, res.Path)
		assert.Equal(t, int64(len("imagebytes")), res.Bytes)
		assert.True(t, strings.HasPrefix(res.Checksum, "sha256:"), res.Checksum)
	}

	completed, failed, _ := tracker.Snapshot()
	assert.Equal(t, 20, completed)
	assert.Equal(t, 0, failed)
}

func TestDispatcherCapsConcurrency(t *testing.T) {
	var mu sync.Mutex
	var current, peak int

	svc := &fakeService{
		download: func(ctx context.Context, url string) (io.ReadCloser, error) {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			return payload(), nil
		},
	}
	d, _ := newTestDispatcher(t, svc, 3, quickPolicy(2), 24)

	results := drain(d.Run(context.Background(), singleBatch(resolvedRefs(24))))

	assert.Len(t, results, 24)
	assert.LessOrEqual(t, peak, 3, "never more in-flight transfers than workers")
	assert.Greater(t, peak, 0)
}

func TestDispatcherRetriesUntilBudgetExhausted(t *testing.T) {
	var attempts atomic.Int32
	svc := &fakeService{
		download: func(ctx context.Context, url string) (io.ReadCloser, error) {
			attempts.Add(1)
			return nil, design.NewTransientError("download", errors.New("connection reset"))
		},
	}
	d, tracker := newTestDispatcher(t, svc, 1, quickPolicy(5), 1)

	results := drain(d.Run(context.Background(), singleBatch(resolvedRefs(1))))

	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "failed after 6 attempts")
	assert.Equal(t, int32(6), attempts.Load(), "initial attempt plus five retries")

	completed, failed, _ := tracker.Snapshot()
	assert.Equal(t, 0, completed)
	assert.Equal(t, 1, failed)
}

func TestDispatcherRetryThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	svc := &fakeService{
		download: func(ctx context.Context, url string) (io.ReadCloser, error) {
			if attempts.Add(1) < 3 {
				return nil, design.NewTransientError("download", errors.New("status 502"))
			}
			return payload(), nil
		},
	}
	d, _ := newTestDispatcher(t, svc, 1, quickPolicy(5), 1)

	results := drain(d.Run(context.Background(), singleBatch(resolvedRefs(1))))

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDispatcherFatalErrorSkipsRetry(t *testing.T) {
	var attempts atomic.Int32
	svc := &fakeService{
		download: func(ctx context.Context, url string) (io.ReadCloser, error) {
			attempts.Add(1)
			return nil, design.NewFatalError("download", errors.New("status 404"))
		},
	}
	d, _ := newTestDispatcher(t, svc, 1, quickPolicy(5), 1)

	results := drain(d.Run(context.Background(), singleBatch(resolvedRefs(1))))

	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestDispatcherRateLimitPausesAllWorkers(t *testing.T) {
	aLimited := make(chan struct{})
	var aCalls, bCalls atomic.Int32
	var limitedAt, bRetryAt atomic.Int64

	nodes := []ResolvedNode{
		{Node: NodeRef{ID: "2:1", Name: "A"}, URL: "https://cdn.test/A", Options: design.RenderOptions{Format: "png", Scale: 1}},
		{Node: NodeRef{ID: "2:2", Name: "B"}, URL: "https://cdn.test/B", Options: design.RenderOptions{Format: "png", Scale: 1}},
	}

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	gov := NewGovernor()

	svc := &fakeService{
		download: func(ctx context.Context, url string) (io.ReadCloser, error) {
			if strings.HasSuffix(url, "/A") {
				if aCalls.Add(1) == 1 {
					limitedAt.Store(time.Now().UnixNano())
					close(aLimited)
					return nil, &design.RateLimitError{Op: "download", RetryAfter: 50 * time.Millisecond}
				}
				return payload(), nil
			}
			if bCalls.Add(1) == 1 {
				// Fail B only after A's limit hit has landed, so B's retry
				// must go through the governor's window.
				<-aLimited
				for gov.ShouldPause() == 0 {
					time.Sleep(100 * time.Microsecond)
				}
				return nil, design.NewTransientError("download", errors.New("connection reset"))
			}
			bRetryAt.Store(time.Now().UnixNano())
			return payload(), nil
		},
	}

	d := &Dispatcher{
		svc:     svc,
		store:   store,
		gov:     gov,
		policy:  quickPolicy(3),
		tracker: NewTracker(2, nil),
		workers: 2,
		fileKey: "key1",
		log:     discardLog(),
	}

	results := drain(d.Run(context.Background(), singleBatch(nodes)))

	require.Len(t, results, 2)
	for _, res := range results {
		assert.NoError(t, res.Err)
	}

	waited := time.Duration(bRetryAt.Load() - limitedAt.Load())
	assert.GreaterOrEqual(t, waited, 50*time.Millisecond,
		"another worker's retry waits out the shared window")
}

func TestDispatcherNamingIsDeterministic(t *testing.T) {
	nodes := []ResolvedNode{
		{Node: NodeRef{ID: "2:1", Name: "Icon/Left"}, URL: "u1", Options: design.RenderOptions{Format: "png", Scale: 1}},
		{Node: NodeRef{ID: "2:2", Name: "Card"}, URL: "u2", Options: design.RenderOptions{Format: "png", Scale: 2}},
		{Node: NodeRef{ID: "2:3", Name: "Card"}, URL: "u3", Options: design.RenderOptions{Format: "png", Scale: 2}},
		{Node: NodeRef{ID: "2:4", Name: "Card"}, URL: "u4", Options: design.RenderOptions{Format: "svg", Scale: 1}},
		{Node: NodeRef{ID: "2:5", Name: "Thumb"}, URL: "u5", Options: design.RenderOptions{Format: "png", Scale: 1.5}},
	}

	svc := &fakeService{
		download: func(ctx context.Context, url string) (io.ReadCloser, error) {
			return payload(), nil
		},
	}
	dir := t.TempDir()
	store, err := storage.NewLocalStore(dir)
	require.NoError(t, err)

	// Target keys are assigned by the feeder in resolution order, so the
	// worker count does not affect them.
	run := func() map[string]string {
		d := &Dispatcher{
			svc:     svc,
			store:   store,
			gov:     NewGovernor(),
			policy:  quickPolicy(2),
			tracker: NewTracker(len(nodes), nil),
			workers: 3,
			fileKey: "key1",
			log:     discardLog(),
		}
		paths := make(map[string]string)
		for res := range d.Run(context.Background(), singleBatch(nodes)) {
			require.NoError(t, res.Err)
			paths[res.Node.ID] = res.Path
		}
		return paths
	}

	first := run()
	assert.Equal(t, map[string]string{
		"2:1": "Icon_Left.png",
		"2:2": "Card@2x.png",
		"2:3": "Card-2_3@2x.png",
		"2:4": "Card.svg",
		"2:5": "Thumb@1.5x.png",
	}, first)

	// A second run over the same input overwrites in place: identical
	// keys, no new files.
	second := run()
	assert.Equal(t, first, second)

	var files int
	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err == nil && !entry.IsDir() {
			files++
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, len(nodes), files, "re-run leaves no orphans")
}

func TestDispatcherForwardsResolutionFailures(t *testing.T) {
	svc := &fakeService{
		download: func(ctx context.Context, url string) (io.ReadCloser, error) {
			return payload(), nil
		},
	}
	d, tracker := newTestDispatcher(t, svc, 2, quickPolicy(2), 3)

	preFailed := Result{
		Node:    NodeRef{ID: "9:9", Name: "Ghost"},
		Options: design.RenderOptions{Format: "png", Scale: 1},
		Err:     errResolutionFailed,
	}
	results := drain(d.Run(context.Background(), singleBatch(resolvedRefs(2), preFailed)))

	require.Len(t, results, 3)
	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			assert.Equal(t, "9:9", res.Node.ID)
		}
	}
	assert.Equal(t, 1, failed)

	completed, trackedFailed, _ := tracker.Snapshot()
	assert.Equal(t, 2, completed)
	assert.Equal(t, 1, trackedFailed)
}

func TestDispatcherRetriesStoreWriteFailure(t *testing.T) {
	var downloads atomic.Int32
	svc := &fakeService{
		download: func(ctx context.Context, url string) (io.ReadCloser, error) {
			downloads.Add(1)
			return payload(), nil
		},
	}

	base, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store := &flakyStore{AssetStore: base, failures: 1}

	d := &Dispatcher{
		svc:     svc,
		store:   store,
		gov:     NewGovernor(),
		policy:  quickPolicy(2),
		tracker: NewTracker(1, nil),
		workers: 1,
		fileKey: "key1",
		log:     discardLog(),
	}

	results := drain(d.Run(context.Background(), singleBatch(resolvedRefs(1))))

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, int32(2), downloads.Load(), "write failure re-downloads the asset")
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	svc := &fakeService{
		download: func(ctx context.Context, url string) (io.ReadCloser, error) {
			time.Sleep(50 * time.Millisecond)
			return payload(), nil
		},
	}
	d, _ := newTestDispatcher(t, svc, 2, quickPolicy(2), 8)

	out := d.Run(ctx, singleBatch(resolvedRefs(8)))
	time.AfterFunc(20*time.Millisecond, cancel)

	results := drain(out)
	assert.Less(t, len(results), 8, "cancellation stops the pool early")
}

// flakyStore fails the first n writes, then delegates.
type flakyStore struct {
	storage.AssetStore
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) Write(ctx context.Context, key string, body io.Reader) (*storage.WriteResult, error) {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if fail {
		io.Copy(io.Discard, body)
		return nil, errors.New("disk full")
	}
	return s.AssetStore.Write(ctx, key, body)
}
