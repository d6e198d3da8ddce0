// Package engine implements the process-wide control surface (spec
// §6 Control API): init/dispose lifecycle, session creation keyed by a
// deterministic id, and stats/auth passthrough to the registry.
package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"

	"github.com/MainListActivity/MaPlayer/pkg/logging"
	"github.com/MainListActivity/MaPlayer/pkg/origin"
	"github.com/MainListActivity/MaPlayer/pkg/proxyerr"
	"github.com/MainListActivity/MaPlayer/pkg/registry"
	"github.com/MainListActivity/MaPlayer/pkg/session"
	"github.com/MainListActivity/MaPlayer/pkg/stats"
)

// Default configuration constants, exact per the control-API contract.
const (
	DefaultChunkSize      = 2 * 1024 * 1024
	DefaultMaxConcurrency = 6
	StartupClampBytes     = 512 * 1024
)

// Config is the engine's immutable configuration, supplied once at
// init_engine.
type Config struct {
	ChunkSize      int64
	MaxConcurrency int
	CacheDir       string
	HTTPClient     *http.Client
}

// WithDefaults fills unset fields with the documented defaults.
func (c Config) WithDefaults() Config {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.CacheDir == "" {
		c.CacheDir = "."
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return c
}

// SessionInfo is the create_session response shape.
type SessionInfo struct {
	SessionID     string
	PlaybackURL   string
	ContentLength int64
	ContentType   string
}

// Engine is the single process-wide holder of configuration and the
// session registry. Init and Dispose are its only mutators.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	log      logging.Logger
	registry *registry.Registry
	addr     string // loopback address the HTTP edge is bound to, once started
}

var (
	globalMu  sync.Mutex
	globalEng *Engine
)

// InitEngine idempotently initializes the process-wide engine; a second
// call with the engine already present is a no-op success returning the
// existing instance.
func InitEngine(cfg Config) *Engine {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalEng != nil {
		return globalEng
	}
	globalEng = &Engine{
		cfg:      cfg.WithDefaults(),
		log:      logging.NewLogger(),
		registry: registry.New(),
	}
	return globalEng
}

// Current returns the process-wide engine, or nil if init_engine has
// not yet been called.
func Current() *Engine {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalEng
}

// Dispose clears all sessions and tears down the process-wide engine.
func Dispose() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalEng == nil {
		return
	}
	globalEng.registry.CloseAll()
	globalEng = nil
}

// SessionID derives the 32-hex lowercase MD5 digest of "file:"+fileKey
// when fileKey is non-empty, else of "url:"+url.
func SessionID(url, fileKey string) string {
	var subject string
	if fileKey != "" {
		subject = "file:" + fileKey
	} else {
		subject = "url:" + url
	}
	sum := md5.Sum([]byte(subject))
	return hex.EncodeToString(sum[:])
}

// CreateSession reuses an existing session by id if present; otherwise
// it clears the registry and constructs a fresh one via probe.
func (e *Engine) CreateSession(ctx context.Context, url string, headers map[string]string, fileKey string) (SessionInfo, error) {
	id := SessionID(url, fileKey)

	if existing, ok := e.registry.Lookup(id); ok {
		return e.infoFor(existing), nil
	}

	o := origin.NewHTTP(e.cfg.HTTPClient, url, headers, e.log)
	s, err := session.New(ctx, id, o, session.Config{
		CacheDir:       e.cfg.CacheDir,
		ChunkSize:      e.cfg.ChunkSize,
		MaxConcurrency: e.cfg.MaxConcurrency,
	}, e.log)
	if err != nil {
		return SessionInfo{}, err
	}

	installed := e.registry.Insert(s)
	return e.infoFor(installed), nil
}

func (e *Engine) infoFor(s *session.Session) SessionInfo {
	e.mu.Lock()
	addr := e.addr
	e.mu.Unlock()

	playbackURL := ""
	if addr != "" {
		playbackURL = fmt.Sprintf("http://%s/stream/%s", addr, s.ID)
	}
	return SessionInfo{
		SessionID:     s.ID,
		PlaybackURL:   playbackURL,
		ContentLength: s.ContentLength,
		ContentType:   s.ContentType,
	}
}

// CloseSession removes id's session if present.
func (e *Engine) CloseSession(id string) error {
	return e.registry.Close(id)
}

// GetStats returns id's snapshot, or the aggregate across every session
// when id is empty.
func (e *Engine) GetStats(id string) (stats.Snapshot, error) {
	return e.registry.Stats(id)
}

// UpdateSessionAuth mutates the URL/header pair held by id's origin
// adapter. Empty strings/maps are ignored.
func (e *Engine) UpdateSessionAuth(id, newURL string, newHeaders map[string]string) error {
	s, ok := e.registry.Lookup(id)
	if !ok {
		return proxyerr.New(proxyerr.KindNotFound, "engine.update_session_auth", nil)
	}
	s.UpdateAuth(newURL, newHeaders)
	return nil
}

// SetListenerAddr records the loopback address the HTTP edge bound to,
// used to build playback URLs in CreateSession responses.
func (e *Engine) SetListenerAddr(addr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addr = addr
}

// Registry exposes the session registry for the HTTP edge.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}
