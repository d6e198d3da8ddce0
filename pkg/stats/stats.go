// Package stats implements the rate-windowed throughput and cache-hit
// stats collector (spec component C3).
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// minWindow guards against reporting noisy rates off a too-small
// wall-clock delta between snapshots.
const minWindow = 100 * time.Millisecond

// Snapshot is a point-in-time readout of a Collector, or the aggregate
// of several.
type Snapshot struct {
	DownloadBPS   float64
	ServeBPS      float64
	ActiveWorkers int64
	CacheHitRate  float64
	BufferedAhead int64
}

// Collector accumulates atomic byte/worker counters for one session and
// derives instantaneous bits-per-second figures on Snapshot.
type Collector struct {
	downloadBytesTotal atomic.Uint64
	serveBytesTotal    atomic.Uint64
	activeWorkers      atomic.Int64
	requestedBytes     atomic.Uint64
	cacheHitBytes      atomic.Uint64

	mu           sync.Mutex
	lastSnapshot time.Time
	lastDownload uint64
	lastServe    uint64
}

// New returns a Collector with its rate window anchored at now.
func New(now time.Time) *Collector {
	return &Collector{lastSnapshot: now}
}

func (c *Collector) RecordDownload(n int64) { c.downloadBytesTotal.Add(uint64(n)) }
func (c *Collector) RecordServe(n int64)    { c.serveBytesTotal.Add(uint64(n)) }
func (c *Collector) WorkerStarted()         { c.activeWorkers.Add(1) }
func (c *Collector) WorkerStopped()         { c.activeWorkers.Add(-1) }

// RecordRequest records a serve_range request of rangeLen bytes of which
// cachedLen were already resident, for cache_hit_rate accounting.
func (c *Collector) RecordRequest(rangeLen, cachedLen int64) {
	c.requestedBytes.Add(uint64(rangeLen))
	c.cacheHitBytes.Add(uint64(cachedLen))
}

// Snapshot captures the wall-clock delta since the previous snapshot and
// reports instantaneous bits-per-second for both legs; deltas under
// minWindow report zero to avoid division noise.
func (c *Collector) Snapshot(now time.Time, bufferedAhead int64) Snapshot {
	c.mu.Lock()
	elapsed := now.Sub(c.lastSnapshot)
	download := c.downloadBytesTotal.Load()
	serve := c.serveBytesTotal.Load()
	deltaDownload := download - c.lastDownload
	deltaServe := serve - c.lastServe

	var downloadBPS, serveBPS float64
	if elapsed >= minWindow {
		seconds := elapsed.Seconds()
		downloadBPS = float64(deltaDownload) * 8 / seconds
		serveBPS = float64(deltaServe) * 8 / seconds
		c.lastSnapshot = now
		c.lastDownload = download
		c.lastServe = serve
	}
	c.mu.Unlock()

	requested := c.requestedBytes.Load()
	hitRate := 0.0
	if requested > 0 {
		hitRate = float64(c.cacheHitBytes.Load()) / float64(requested)
	}

	return Snapshot{
		DownloadBPS:   downloadBPS,
		ServeBPS:      serveBPS,
		ActiveWorkers: c.activeWorkers.Load(),
		CacheHitRate:  hitRate,
		BufferedAhead: bufferedAhead,
	}
}

// Aggregate sums counters across snapshots and takes the simple mean of
// their cache hit rates, per the aggregation contract for get_stats(nil).
func Aggregate(snaps []Snapshot) Snapshot {
	var agg Snapshot
	if len(snaps) == 0 {
		return agg
	}
	var hitRateSum float64
	for _, s := range snaps {
		agg.DownloadBPS += s.DownloadBPS
		agg.ServeBPS += s.ServeBPS
		agg.ActiveWorkers += s.ActiveWorkers
		agg.BufferedAhead += s.BufferedAhead
		hitRateSum += s.CacheHitRate
	}
	agg.CacheHitRate = hitRateSum / float64(len(snaps))
	return agg
}
