// Package session implements the per-file playback session (spec
// component C6): construction, seek detection, look-ahead prefetch, and
// streaming assembly over the disk cache and downloader.
package session

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MainListActivity/MaPlayer/pkg/cache"
	"github.com/MainListActivity/MaPlayer/pkg/downloader"
	"github.com/MainListActivity/MaPlayer/pkg/logging"
	"github.com/MainListActivity/MaPlayer/pkg/origin"
	"github.com/MainListActivity/MaPlayer/pkg/proxyerr"
	"github.com/MainListActivity/MaPlayer/pkg/stats"
	"github.com/MainListActivity/MaPlayer/pkg/warmup"
)

const (
	priorityBufferSeconds  = 120
	lookAheadDefaultChunks = 20
	eagerTailChunks        = 4
	warmupProbeCap         = 32 * 1024
	bitrateEMAAlpha        = 0.1

	// isoSectorLen is the size of an ISO 9660 / UDF volume descriptor
	// sector read from warmup.ISOProbeOffset to drive warmup.DetectISO.
	isoSectorLen = 2048
)

// Session is the state owned by one playback of one file: identity,
// content metadata fixed at probe time, the exclusively-owned cache and
// downloader, and playback tracking used to size prefetch and detect
// seeks.
type Session struct {
	ID            string
	ContentLength int64
	ContentType   string
	chunkSize     int64

	origin     origin.Origin
	cache      *cache.Cache
	downloader *downloader.Downloader
	stats      *stats.Collector
	log        logging.Logger

	playbackOffset atomic.Int64

	bpsMu       sync.Mutex
	playbackBPS float64
	bpsSet      bool

	seek *SeekState

	closeOnce sync.Once
}

// Config controls a session's cache geometry and fetch concurrency.
type Config struct {
	CacheDir       string
	ChunkSize      int64
	MaxConcurrency int
}

// New probes the origin, allocates the cache, and spawns eager and
// warmup prefetch. It fails with proxyerr.KindUnsupported if the origin
// reports zero length or no range support.
func New(ctx context.Context, id string, o origin.Origin, cfg Config, log logging.Logger) (*Session, error) {
	info, err := o.Probe(ctx)
	if err != nil {
		return nil, err
	}
	if info.ContentLength == 0 || !info.SupportsRange {
		return nil, proxyerr.New(proxyerr.KindUnsupported, "session.new", fmt.Errorf("origin has zero length or no range support"))
	}

	maxConcurrency := cfg.MaxConcurrency
	if clamper, ok := o.(interface{ EffectiveConcurrency(int) int }); ok {
		maxConcurrency = clamper.EffectiveConcurrency(maxConcurrency)
	}

	o = wrapIfISO(ctx, o, info, log)

	c, err := cache.New(cfg.CacheDir, id, info.ContentLength, cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	collector := stats.New(now())
	dl := downloader.New(o, c, collector, log, maxConcurrency)

	s := &Session{
		ID:            id,
		ContentLength: info.ContentLength,
		ContentType:   info.ContentType,
		chunkSize:     cfg.ChunkSize,
		origin:        o,
		cache:         c,
		downloader:    dl,
		stats:         collector,
		log:           log,
		seek:          NewSeekState(now()),
	}

	s.scheduleEagerPrefetch()
	go s.runWarmup(ctx)

	return s, nil
}

// wrapIfISO probes the fixed ISO 9660 / UDF volume-descriptor sector and,
// if it matches, wraps o as a single-track passthrough over the whole
// image. Probe failures or a non-ISO sector leave o unwrapped.
func wrapIfISO(ctx context.Context, o origin.Origin, info origin.Info, log logging.Logger) origin.Origin {
	probeEnd := warmup.ISOProbeOffset() + isoSectorLen
	if info.ContentLength < probeEnd {
		return o
	}

	sector, err := o.FetchRange(ctx, warmup.ISOProbeOffset(), probeEnd-1)
	if err != nil {
		return o
	}

	switch warmup.DetectISO(sector) {
	case warmup.FormatISO9660, warmup.FormatUDF:
		if log != nil {
			logging.Component(log, "session").Debugf("iso/udf volume descriptor detected, wrapping as single-track passthrough")
		}
		return origin.WrapISO(o, 0, info.ContentLength)
	default:
		return o
	}
}

// scheduleEagerPrefetch starts chunk 0 and the last 4 chunks (the
// typical MP4-at-end moov region) immediately at construction.
func (s *Session) scheduleEagerPrefetch() {
	s.downloader.StartPrefetch(0)
	total := s.cache.TotalChunks()
	for i := total - eagerTailChunks; i < total; i++ {
		if i >= 0 {
			s.downloader.StartPrefetch(i)
		}
	}
}

// runWarmup fetches the header prefix, computes container-aware
// prefetch ranges, and issues background prefetch for each.
func (s *Session) runWarmup(ctx context.Context) {
	probeSize := s.chunkSize
	if probeSize > warmupProbeCap {
		probeSize = warmupProbeCap
	}
	if probeSize > s.ContentLength {
		probeSize = s.ContentLength
	}
	if probeSize <= 0 {
		return
	}

	header, err := s.origin.FetchRange(ctx, 0, probeSize-1)
	if err != nil {
		return
	}

	var g errgroup.Group
	for _, r := range warmup.Plan(header, s.ContentLength, s.chunkSize) {
		r := r
		g.Go(func() error {
			lo, hi := warmup.ChunkRange(r, s.chunkSize)
			s.downloader.PrefetchRange(lo, hi)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // PrefetchRange never errors; Wait just joins the fan-out
}

// ServeRange streams [start, end) to w, clamped so end <= ContentLength.
// It returns the number of bytes written.
func (s *Session) ServeRange(ctx context.Context, start, end int64, w io.Writer) (int64, error) {
	if end > s.ContentLength {
		end = s.ContentLength
	}
	if start >= end {
		return 0, proxyerr.New(proxyerr.KindInvalidRange, "session.serve_range", fmt.Errorf("start %d >= end %d", start, end))
	}

	t0 := now()
	s.playbackOffset.Store(start)

	firstChunk := int(start / s.chunkSize)
	lastChunk := int((end - 1) / s.chunkSize)

	isSeek := s.seek.CheckAndReset(t0, start)
	if isSeek {
		s.downloader.AbortOutsideWindow(firstChunk, firstChunk+32)
	}

	rangeLen := end - start
	cachedLen := s.cachedBytesInSpan(start, end, firstChunk, lastChunk)
	if s.stats != nil {
		s.stats.RecordRequest(rangeLen, cachedLen)
	}

	for i := firstChunk; i <= lastChunk; i++ {
		s.downloader.StartUrgentPrefetch(i)
	}

	var written int64
	for i := firstChunk; i <= lastChunk; i++ {
		if !s.downloader.WaitForChunk(ctx, i) {
			return written, proxyerr.New(proxyerr.KindCacheMiss, "session.serve_range", fmt.Errorf("chunk %d not available", i))
		}

		chunkStart := int64(i) * s.chunkSize
		chunkEnd := chunkStart + s.cache.ChunkLen(i)
		sliceStart := start
		if chunkStart > sliceStart {
			sliceStart = chunkStart
		}
		sliceEnd := end
		if chunkEnd < sliceEnd {
			sliceEnd = chunkEnd
		}

		data, ok := s.cache.ReadRange(sliceStart, sliceEnd)
		if !ok {
			return written, proxyerr.New(proxyerr.KindCacheMiss, "session.serve_range", fmt.Errorf("chunk %d disappeared before read", i))
		}
		n, werr := w.Write(data)
		written += int64(n)
		if werr != nil {
			// Consumer hung up; stop early without treating this as a
			// session-level failure.
			return written, nil
		}
	}

	s.scheduleLookAhead(end, lastChunk)
	s.updateBitrate(rangeLen)
	s.seek.Update(now(), start, !isSeek)

	if s.stats != nil {
		s.stats.RecordServe(written)
	}

	return written, nil
}

// cachedBytesInSpan sums the already-cached portion of [start, end)
// across the chunks it overlaps, for stats.RecordRequest.
func (s *Session) cachedBytesInSpan(start, end int64, firstChunk, lastChunk int) int64 {
	var cached int64
	for i := firstChunk; i <= lastChunk; i++ {
		if !s.cache.HasChunk(i) {
			continue
		}
		chunkStart := int64(i) * s.chunkSize
		chunkEnd := chunkStart + s.cache.ChunkLen(i)
		sliceStart := start
		if chunkStart > sliceStart {
			sliceStart = chunkStart
		}
		sliceEnd := end
		if chunkEnd < sliceEnd {
			sliceEnd = chunkEnd
		}
		if sliceEnd > sliceStart {
			cached += sliceEnd - sliceStart
		}
	}
	return cached
}

// scheduleLookAhead computes the prefetch horizon from the current
// bitrate estimate (or a default chunk count if none is established
// yet) and issues background prefetch through it.
func (s *Session) scheduleLookAhead(end int64, lastChunk int) {
	s.bpsMu.Lock()
	bps, set := s.playbackBPS, s.bpsSet
	s.bpsMu.Unlock()

	var horizon int64
	if set {
		horizon = end + int64(bps*priorityBufferSeconds)
	} else {
		horizon = end + lookAheadDefaultChunks*s.chunkSize
	}
	if horizon > s.ContentLength {
		horizon = s.ContentLength
	}

	hi := int(math.Ceil(float64(horizon) / float64(s.chunkSize)))
	s.downloader.PrefetchRange(lastChunk+1, hi)
}

// updateBitrate applies the EMA (alpha=0.1) over rangeLen*8 bits,
// or sets the initial observation directly.
func (s *Session) updateBitrate(rangeLen int64) {
	bits := float64(rangeLen) * 8
	s.bpsMu.Lock()
	defer s.bpsMu.Unlock()
	if !s.bpsSet {
		s.playbackBPS = bits
		s.bpsSet = true
		return
	}
	s.playbackBPS = bitrateEMAAlpha*bits + (1-bitrateEMAAlpha)*s.playbackBPS
}

// BufferedBytesAhead reports contiguous cached bytes ahead of offset.
func (s *Session) BufferedBytesAhead(offset int64) int64 {
	return s.cache.BufferedBytesAhead(offset)
}

// Snapshot reports the session's current stats.
func (s *Session) Snapshot() stats.Snapshot {
	return s.stats.Snapshot(now(), s.cache.BufferedBytesAhead(s.playbackOffset.Load()))
}

// RecentErrors returns the downloader's tail of recent fetch-failure
// text, for surfacing origin trouble (auth rejections, timeouts) in
// diagnostics without retaining an unbounded log.
func (s *Session) RecentErrors() string {
	return s.downloader.RecentErrors()
}

// UpdateAuth mutates the origin's URL/header pair for in-place token
// refresh; in-flight fetches continue, new credentials apply to their
// next request.
func (s *Session) UpdateAuth(newURL string, newHeaders map[string]string) {
	s.origin.UpdateAuth(newURL, newHeaders)
}

// Close cancels the downloader and deletes the cache file. Safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.downloader.Shutdown()
		s.cache.Close()
	})
}

func now() time.Time { return time.Now() }
