// Package cache implements the chunked on-disk cache (spec component C2):
// a memory-mapped, pre-sized file per session plus a completion bitmap.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MainListActivity/MaPlayer/pkg/proxyerr"
)

// isSafeSessionID mirrors the store's blob-hash path-safety check: the
// session id is attacker-influenced (derived from a caller-supplied URL or
// file key) and must never be allowed to escape cacheDir via "..", path
// separators, or other shell/filesystem metacharacters.
func isSafeSessionID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// Cache is the per-session chunked disk cache. Exactly one Cache exists
// per Session, for its lifetime; it owns its backing file exclusively.
type Cache struct {
	path          string
	file          *os.File
	mm            *mapping
	mmMu          sync.RWMutex // guards the mapping's validity (see Close)
	bits          *bitmap
	chunkSize     int64
	contentLength int64
	totalChunks   int
	cachedBytes   atomic.Uint64
	closed        atomic.Bool
}

// New creates the backing file <cacheDir>/<sessionID>.cache, truncates it
// to contentLength, and memory-maps it read/write.
func New(cacheDir, sessionID string, contentLength, chunkSize int64) (*Cache, error) {
	if contentLength <= 0 {
		return nil, proxyerr.New(proxyerr.KindInternal, "cache.new", fmt.Errorf("content_length must be > 0"))
	}
	if chunkSize <= 0 {
		return nil, proxyerr.New(proxyerr.KindInternal, "cache.new", fmt.Errorf("chunk_size must be > 0"))
	}
	if !isSafeSessionID(sessionID) {
		return nil, proxyerr.New(proxyerr.KindInternal, "cache.new", fmt.Errorf("unsafe session id %q", sessionID))
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, proxyerr.New(proxyerr.KindInternal, "cache.new", err)
	}

	path := filepath.Join(filepath.Clean(cacheDir), sessionID+".cache")
	if rel, err := filepath.Rel(filepath.Clean(cacheDir), path); err != nil || strings.HasPrefix(rel, "..") {
		return nil, proxyerr.New(proxyerr.KindInternal, "cache.new", fmt.Errorf("path traversal attempt detected: %s", path))
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, proxyerr.New(proxyerr.KindInternal, "cache.new", err)
	}
	if err := file.Truncate(contentLength); err != nil {
		file.Close()
		os.Remove(path)
		return nil, proxyerr.New(proxyerr.KindInternal, "cache.new", err)
	}

	mm, err := newMapping(file, contentLength)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, proxyerr.New(proxyerr.KindInternal, "cache.new", err)
	}

	totalChunks := int((contentLength + chunkSize - 1) / chunkSize)

	return &Cache{
		path:          path,
		file:          file,
		mm:            mm,
		bits:          newBitmap(totalChunks),
		chunkSize:     chunkSize,
		contentLength: contentLength,
		totalChunks:   totalChunks,
	}, nil
}

// ChunkLen returns the byte length of chunk i; every chunk but the last is
// exactly chunk_size, and the last may be shorter.
func (c *Cache) ChunkLen(i int) int64 {
	if i+1 < c.totalChunks {
		return c.chunkSize
	}
	remainder := c.contentLength % c.chunkSize
	if remainder == 0 {
		return c.chunkSize
	}
	return remainder
}

// TotalChunks returns ceil(content_length / chunk_size).
func (c *Cache) TotalChunks() int { return c.totalChunks }

// ChunkSize returns the configured chunk size.
func (c *Cache) ChunkSize() int64 { return c.chunkSize }

// ContentLength returns the full content length this cache was sized for.
func (c *Cache) ContentLength() int64 { return c.contentLength }

// CachedBytes returns the sum of chunk_len(i) over all completed chunks.
func (c *Cache) CachedBytes() uint64 { return c.cachedBytes.Load() }

// PutChunk writes the exact-length payload for chunk i into the mapping
// and marks it complete. It fails if i is out of range or data has the
// wrong length for that chunk.
func (c *Cache) PutChunk(i int, data []byte) error {
	if i < 0 || i >= c.totalChunks {
		return proxyerr.New(proxyerr.KindInternal, "cache.put_chunk", fmt.Errorf("chunk index %d out of range (total %d)", i, c.totalChunks))
	}
	expected := c.ChunkLen(i)
	if int64(len(data)) != expected {
		return proxyerr.New(proxyerr.KindInternal, "cache.put_chunk", fmt.Errorf("data length %d != expected chunk length %d", len(data), expected))
	}

	c.mmMu.RLock()
	defer c.mmMu.RUnlock()
	if c.closed.Load() {
		return proxyerr.New(proxyerr.KindInternal, "cache.put_chunk", fmt.Errorf("cache closed"))
	}

	offset := int64(i) * c.chunkSize
	copy(c.mm.bytes()[offset:offset+expected], data)

	if c.bits.set(i) {
		c.cachedBytes.Add(uint64(expected))
	}
	return nil
}

// ReadChunk returns a copy of chunk i's bytes, or (nil, false) if it is
// not yet complete.
func (c *Cache) ReadChunk(i int) ([]byte, bool) {
	if i < 0 || i >= c.totalChunks || !c.bits.get(i) {
		return nil, false
	}

	c.mmMu.RLock()
	defer c.mmMu.RUnlock()
	if c.closed.Load() {
		return nil, false
	}

	offset := int64(i) * c.chunkSize
	length := c.ChunkLen(i)
	out := make([]byte, length)
	copy(out, c.mm.bytes()[offset:offset+length])
	return out, true
}

// HasChunk reports whether chunk i's completion bit is set.
func (c *Cache) HasChunk(i int) bool {
	if i < 0 || i >= c.totalChunks {
		return false
	}
	return c.bits.get(i)
}

// ReadRange returns [start, end) iff every chunk overlapping the range is
// complete; no partial reads are ever returned.
func (c *Cache) ReadRange(start, end int64) ([]byte, bool) {
	if start < 0 || start >= end || end > c.contentLength {
		return nil, false
	}

	firstChunk := int(start / c.chunkSize)
	lastChunk := int((end - 1) / c.chunkSize)
	if !c.bits.allSet(firstChunk, lastChunk+1) {
		return nil, false
	}

	c.mmMu.RLock()
	defer c.mmMu.RUnlock()
	if c.closed.Load() {
		return nil, false
	}

	out := make([]byte, end-start)
	copy(out, c.mm.bytes()[start:end])
	return out, true
}

// BufferedBytesAhead returns the number of contiguous cached bytes from
// offset through the first missing chunk boundary (or content_length),
// or zero if the chunk containing offset is not yet complete.
func (c *Cache) BufferedBytesAhead(offset int64) int64 {
	if offset < 0 || offset >= c.contentLength {
		return 0
	}

	chunkIndex := int(offset / c.chunkSize)
	if !c.bits.get(chunkIndex) {
		return 0
	}

	firstChunkEnd := (int64(chunkIndex) + 1) * c.chunkSize
	if firstChunkEnd > c.contentLength {
		firstChunkEnd = c.contentLength
	}
	buffered := firstChunkEnd - offset

	for i := chunkIndex + 1; i < c.totalChunks; i++ {
		if !c.bits.get(i) {
			break
		}
		buffered += c.ChunkLen(i)
	}
	return buffered
}

// Close unmaps the cache file, closes it, and best-effort deletes it.
// Safe to call more than once.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mmMu.Lock()
	err := c.mm.close()
	c.mmMu.Unlock()

	if cerr := c.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	os.Remove(c.path)
	return err
}
