// Package downloader implements the prioritized, deduplicated chunk
// fetcher (spec component C5): two permit pools, per-chunk cancellation
// and ephemeral notifiers, and retry-with-auth-refresh.
package downloader

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MainListActivity/MaPlayer/pkg/cache"
	"github.com/MainListActivity/MaPlayer/pkg/logging"
	"github.com/MainListActivity/MaPlayer/pkg/origin"
	"github.com/MainListActivity/MaPlayer/pkg/proxyerr"
	"github.com/MainListActivity/MaPlayer/pkg/stats"
	"github.com/MainListActivity/MaPlayer/pkg/tailbuffer"
)

const (
	urgentPermits    = 2
	maxRetries       = 3
	retryBackoffUnit = 500 * time.Millisecond

	// recentErrorsCapacity bounds the diagnostic tail of fetch-failure
	// text kept for RecentErrors, independent of how many chunks fail.
	recentErrorsCapacity = 4096
)

// task tracks the in-flight state for a single chunk index: an optional
// cancellation and an optional completion notifier, installed only
// while a fetch is active and reclaimed on completion.
type task struct {
	cancel context.CancelFunc
	notify chan struct{}
}

// Downloader owns urgent and background permit pools and drives
// per-chunk fetch tasks against an Origin, writing completed chunks
// into a Cache.
type Downloader struct {
	origin      origin.Origin
	cache       *cache.Cache
	collector   *stats.Collector
	log         logging.Logger
	chunkSize   int64
	totalChunks int

	urgentSem     *semaphore.Weighted
	backgroundSem *semaphore.Weighted

	mu    sync.Mutex
	tasks map[int]*task

	recentErrors io.ReadWriter
	errMu        sync.Mutex

	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
}

// New constructs a Downloader for the given origin/cache pair. The
// background pool gets max(maxConcurrency-2, 1) permits; the urgent
// pool always gets 2.
func New(o origin.Origin, c *cache.Cache, collector *stats.Collector, log logging.Logger, maxConcurrency int) *Downloader {
	backgroundPermits := maxConcurrency - urgentPermits
	if backgroundPermits < 1 {
		backgroundPermits = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Downloader{
		origin:        o,
		cache:         c,
		collector:     collector,
		log:           log,
		chunkSize:     c.ChunkSize(),
		totalChunks:   c.TotalChunks(),
		urgentSem:     semaphore.NewWeighted(urgentPermits),
		backgroundSem: semaphore.NewWeighted(int64(backgroundPermits)),
		tasks:         make(map[int]*task),
		recentErrors:  tailbuffer.NewTailBuffer(recentErrorsCapacity),
		shutdownCtx:   ctx,
		shutdownFn:    cancel,
	}
}

// RecentErrors returns the tail of fetch-failure text recorded since the
// previous call (reading drains the buffer), for surfacing in
// diagnostics without retaining unbounded memory.
func (d *Downloader) RecentErrors() string {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	buf := make([]byte, recentErrorsCapacity)
	n, _ := d.recentErrors.Read(buf)
	return string(buf[:n])
}

func (d *Downloader) recordError(i int, err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	fmt.Fprintf(d.recentErrors, "chunk %d: %v\n", i, err)
}

// StartPrefetch idempotently starts a background-priority fetch for
// chunk i.
func (d *Downloader) StartPrefetch(i int) {
	d.start(i, d.backgroundSem)
}

// StartUrgentPrefetch idempotently starts an urgent-priority fetch for
// chunk i.
func (d *Downloader) StartUrgentPrefetch(i int) {
	d.start(i, d.urgentSem)
}

func (d *Downloader) start(i int, pool *semaphore.Weighted) {
	if i < 0 || i >= d.totalChunks {
		return
	}
	if d.cache.HasChunk(i) {
		return
	}

	d.mu.Lock()
	if d.shutdownCtx.Err() != nil {
		d.mu.Unlock()
		return
	}
	if _, exists := d.tasks[i]; exists {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(d.shutdownCtx)
	t := &task{cancel: cancel, notify: make(chan struct{})}
	d.tasks[i] = t
	d.mu.Unlock()

	go d.runFetchTask(ctx, i, pool, t)
}

// runFetchTask implements the fetch task protocol for a single chunk.
func (d *Downloader) runFetchTask(ctx context.Context, i int, pool *semaphore.Weighted, t *task) {
	defer d.finishTask(i, t)

	if d.shutdownCtx.Err() != nil {
		return
	}

	if err := pool.Acquire(ctx, 1); err != nil {
		// Either per-chunk cancellation or engine shutdown won the race.
		return
	}
	defer pool.Release(1)

	if d.collector != nil {
		d.collector.WorkerStarted()
		defer d.collector.WorkerStopped()
	}

	start := int64(i) * d.chunkSize
	end := start + d.cache.ChunkLen(i) - 1

	for attempt := 0; attempt <= maxRetries; {
		if ctx.Err() != nil {
			return
		}

		data, err := d.origin.FetchRange(ctx, start, end)
		if err == nil {
			if ctx.Err() != nil {
				return
			}
			if werr := d.cache.PutChunk(i, data); werr == nil && d.collector != nil {
				d.collector.RecordDownload(int64(len(data)))
			}
			return
		}

		d.recordError(i, err)

		if proxyerr.Is(err, proxyerr.KindAuthRejected) {
			d.origin.RefreshAuth(ctx)
			// Retry immediately without consuming an attempt.
			continue
		}

		if attempt >= maxRetries {
			return
		}
		attempt++
		select {
		case <-time.After(retryBackoffUnit * time.Duration(attempt)):
		case <-ctx.Done():
			return
		}
	}
}

// finishTask notifies waiters then clears the per-chunk slot,
// regardless of fetch outcome.
func (d *Downloader) finishTask(i int, t *task) {
	close(t.notify)

	d.mu.Lock()
	if d.tasks[i] == t {
		delete(d.tasks, i)
	}
	d.mu.Unlock()
}

// WaitForChunk returns immediately true if chunk i is already complete;
// otherwise it ensures a background prefetch is scheduled and awaits
// its notifier, returning the current completeness bit on wake.
func (d *Downloader) WaitForChunk(ctx context.Context, i int) bool {
	if d.cache.HasChunk(i) {
		return true
	}

	d.StartPrefetch(i)

	d.mu.Lock()
	t, exists := d.tasks[i]
	d.mu.Unlock()
	if !exists {
		// The task may have already completed and cleared its slot
		// between StartPrefetch and the lookup above.
		return d.cache.HasChunk(i)
	}

	select {
	case <-t.notify:
	case <-ctx.Done():
	case <-d.shutdownCtx.Done():
	}
	return d.cache.HasChunk(i)
}

// AbortOutsideWindow cancels every in-flight chunk task with index
// outside [lo, hi).
func (d *Downloader) AbortOutsideWindow(lo, hi int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, t := range d.tasks {
		if i < lo || i >= hi {
			t.cancel()
		}
	}
}

// PrefetchRange starts background prefetch for every index in [lo, hi),
// clamped to total_chunks.
func (d *Downloader) PrefetchRange(lo, hi int) {
	if lo < 0 {
		lo = 0
	}
	if hi > d.totalChunks {
		hi = d.totalChunks
	}
	for i := lo; i < hi; i++ {
		d.StartPrefetch(i)
	}
}

// Shutdown cancels the engine-wide token and every per-chunk token.
func (d *Downloader) Shutdown() {
	d.shutdownFn()
	d.mu.Lock()
	for _, t := range d.tasks {
		t.cancel()
	}
	d.mu.Unlock()
}
