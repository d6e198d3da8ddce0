package downloader

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MainListActivity/MaPlayer/pkg/cache"
	"github.com/MainListActivity/MaPlayer/pkg/origin"
	"github.com/MainListActivity/MaPlayer/pkg/proxyerr"
)

// fakeOrigin is a minimal origin.Origin double for exercising the fetch
// task protocol without a real network.
type fakeOrigin struct {
	mu            sync.Mutex
	fetchCalls    int
	refreshCalls  int
	failNTimes    int // FetchRange returns FetchFailed for the N calls after the rejected ones
	rejectNTimes  int // FetchRange returns AuthRejected for the first N calls
	fetchFn       func(start, end int64) ([]byte, error)
}

func (f *fakeOrigin) Probe(ctx context.Context) (origin.Info, error) { return origin.Info{}, nil }

func (f *fakeOrigin) FetchRange(ctx context.Context, start, end int64) ([]byte, error) {
	f.mu.Lock()
	f.fetchCalls++
	n := f.fetchCalls
	rejectN := f.rejectNTimes
	failN := f.failNTimes
	f.mu.Unlock()

	if n <= rejectN {
		return nil, proxyerr.New(proxyerr.KindAuthRejected, "fake.fetch", fmt.Errorf("401"))
	}
	if n <= rejectN+failN {
		return nil, proxyerr.New(proxyerr.KindFetchFailed, "fake.fetch", fmt.Errorf("transient"))
	}
	if f.fetchFn != nil {
		return f.fetchFn(start, end)
	}
	return make([]byte, end-start+1), nil
}

func (f *fakeOrigin) RefreshAuth(ctx context.Context) error {
	f.mu.Lock()
	f.refreshCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeOrigin) UpdateAuth(newURL string, newHeaders map[string]string) {}

func newTestCache(t *testing.T, contentLength, chunkSize int64) *cache.Cache {
	t.Helper()
	dir, err := os.MkdirTemp("", "mapper-downloader-test-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	c, err := cache.New(dir, "0123456789abcdef0123456789abcdef", contentLength, chunkSize)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// T6 — auth refresh loop: first fetch_range returns AuthRejected; the
// downloader calls refresh_auth exactly once before the retry; the
// second call returns the bytes; the chunk completes.
func TestAuthRefreshLoop(t *testing.T) {
	c := newTestCache(t, 10, 10)
	o := &fakeOrigin{rejectNTimes: 1}
	d := New(o, c, nil, nil, 6)

	d.StartPrefetch(0)
	waitForCondition(t, time.Second, func() bool { return c.HasChunk(0) })

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.refreshCalls != 1 {
		t.Fatalf("refreshCalls = %d, want 1", o.refreshCalls)
	}
	if o.fetchCalls != 2 {
		t.Fatalf("fetchCalls = %d, want 2 (1 rejected + 1 success)", o.fetchCalls)
	}
}

func TestRetryWithBackoffEventuallySucceeds(t *testing.T) {
	c := newTestCache(t, 10, 10)
	o := &fakeOrigin{failNTimes: 2}
	d := New(o, c, nil, nil, 6)

	d.StartPrefetch(0)
	waitForCondition(t, 3*time.Second, func() bool { return c.HasChunk(0) })
}

func TestExhaustedRetriesLeavesChunkIncomplete(t *testing.T) {
	c := newTestCache(t, 10, 10)
	o := &fakeOrigin{failNTimes: 100}
	d := New(o, c, nil, nil, 6)

	d.StartPrefetch(0)
	// Let every retry attempt run its course: backoff is
	// retryBackoffUnit*(attempt), summing to 500+1000+1500ms across
	// the 3 retries before the final attempt is abandoned.
	time.Sleep(3500 * time.Millisecond)

	if c.HasChunk(0) {
		t.Fatalf("HasChunk(0) = true, want false after exhausting retries")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fetchCalls != maxRetries+1 {
		t.Fatalf("fetchCalls = %d, want %d (initial + %d retries)", o.fetchCalls, maxRetries+1, maxRetries)
	}
}

func TestStartPrefetchIsIdempotent(t *testing.T) {
	c := newTestCache(t, 10, 10)
	var calls atomic.Int32
	o := &fakeOrigin{fetchFn: func(start, end int64) ([]byte, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return make([]byte, end-start+1), nil
	}}
	d := New(o, c, nil, nil, 6)

	d.StartPrefetch(0)
	d.StartPrefetch(0)
	d.StartPrefetch(0)

	waitForCondition(t, time.Second, func() bool { return c.HasChunk(0) })
	if calls.Load() != 1 {
		t.Fatalf("fetch called %d times, want exactly 1 (deduplicated)", calls.Load())
	}
}

func TestWaitForChunkReturnsTrueIfAlreadyComplete(t *testing.T) {
	c := newTestCache(t, 10, 10)
	if err := c.PutChunk(0, make([]byte, 10)); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	d := New(&fakeOrigin{}, c, nil, nil, 6)

	if !d.WaitForChunk(context.Background(), 0) {
		t.Fatalf("WaitForChunk(0) = false, want true for already-complete chunk")
	}
}

func TestAbortOutsideWindowCancelsOnlyOutOfWindowChunks(t *testing.T) {
	c := newTestCache(t, 100, 10)
	block := make(chan struct{})
	o := &fakeOrigin{fetchFn: func(start, end int64) ([]byte, error) {
		<-block
		return make([]byte, end-start+1), nil
	}}
	d := New(o, c, nil, nil, 6)

	for i := 0; i < 5; i++ {
		d.StartUrgentPrefetch(i)
	}
	// Not all 5 can run concurrently under the urgent pool (2 permits),
	// but all 5 should be registered as tasks immediately.
	waitForCondition(t, time.Second, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.tasks) == 5
	})

	d.AbortOutsideWindow(0, 2)
	close(block)

	waitForCondition(t, time.Second, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.tasks) == 0
	})
}

func TestRecentErrorsCapturesFailureText(t *testing.T) {
	c := newTestCache(t, 10, 10)
	o := &fakeOrigin{failNTimes: 1}
	d := New(o, c, nil, nil, 6)

	d.StartPrefetch(0)
	waitForCondition(t, time.Second, func() bool { return c.HasChunk(0) })

	if got := d.RecentErrors(); got == "" {
		t.Fatalf("RecentErrors() empty, want recorded transient-failure text")
	}
}

func TestShutdownPreventsNewTasks(t *testing.T) {
	c := newTestCache(t, 10, 10)
	o := &fakeOrigin{}
	d := New(o, c, nil, nil, 6)
	d.Shutdown()

	d.StartPrefetch(0)
	time.Sleep(20 * time.Millisecond)
	if c.HasChunk(0) {
		t.Fatalf("chunk fetched after shutdown, want no-op")
	}
}
