package origin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MainListActivity/MaPlayer/pkg/internal/utils"
	"github.com/MainListActivity/MaPlayer/pkg/logging"
	"github.com/MainListActivity/MaPlayer/pkg/proxyerr"
)

// maxIPPoolConcurrency is the hard ceiling on effective concurrency when
// an IP pool is active, independent of the configured max_concurrency.
const maxIPPoolConcurrency = 8

// HTTP is the HTTP origin variant. It issues a single-byte probe
// (Range: bytes=0-0) to derive size and range support, and supports
// mutating the URL/header set under a writer lock for token refresh.
type HTTP struct {
	client *http.Client
	log    logging.Logger

	mu      sync.RWMutex
	url     string
	headers map[string]string

	// ipPool, when non-empty, is a resolved set of origin addresses the
	// adapter round-robins across to lift per-connection throughput
	// caps. It is optional; most callers leave it unset.
	ipPool []string
	nextIP atomic.Uint64
}

// NewHTTP constructs an HTTP origin for url with the given request
// headers. log may be nil.
func NewHTTP(client *http.Client, url string, headers map[string]string, log logging.Logger) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return &HTTP{client: client, url: url, headers: h, log: log}
}

// WithIPPool configures a pool of resolved origin addresses to
// round-robin across. Returns the receiver for chaining.
func (h *HTTP) WithIPPool(addrs []string) *HTTP {
	h.ipPool = append([]string(nil), addrs...)
	return h
}

// EffectiveConcurrency clamps configured concurrency to
// min(configured, 8, len(ipPool)) when an IP pool is active; otherwise
// it returns configured unchanged.
func (h *HTTP) EffectiveConcurrency(configured int) int {
	n := len(h.ipPool)
	if n == 0 {
		return configured
	}
	eff := configured
	if maxIPPoolConcurrency < eff {
		eff = maxIPPoolConcurrency
	}
	if n < eff {
		eff = n
	}
	return eff
}

func (h *HTTP) nextAddr() string {
	if len(h.ipPool) == 0 {
		return ""
	}
	idx := h.nextIP.Add(1) - 1
	return h.ipPool[idx%uint64(len(h.ipPool))]
}

func (h *HTTP) buildRequest(ctx context.Context, rangeHeader string) (*http.Request, error) {
	h.mu.RLock()
	url := h.url
	headers := make(map[string]string, len(h.headers))
	for k, v := range h.headers {
		headers[k] = v
	}
	h.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	if addr := h.nextAddr(); addr != "" {
		req.Header.Set("X-Proxy-Resolved-Addr", addr)
	}
	return req, nil
}

func statusToErr(op string, status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusPreconditionFailed:
		return proxyerr.New(proxyerr.KindAuthRejected, op, fmt.Errorf("origin rejected credentials: HTTP %d", status))
	default:
		return proxyerr.New(proxyerr.KindFetchFailed, op, fmt.Errorf("origin request failed: HTTP %d", status))
	}
}

// Probe issues Range: bytes=0-0 and derives content length from
// Content-Range on 206, or Content-Length on 200.
func (h *HTTP) Probe(ctx context.Context) (Info, error) {
	req, err := h.buildRequest(ctx, "bytes=0-0")
	if err != nil {
		return Info{}, proxyerr.New(proxyerr.KindFetchFailed, "origin.probe", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Info{}, proxyerr.New(proxyerr.KindFetchFailed, "origin.probe", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusPreconditionFailed:
		return Info{}, statusToErr("origin.probe", resp.StatusCode)
	case http.StatusOK, http.StatusPartialContent:
	default:
		return Info{}, statusToErr("origin.probe", resp.StatusCode)
	}

	supportsRange := resp.StatusCode == http.StatusPartialContent
	var contentLength int64
	if supportsRange {
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if idx := strings.LastIndex(cr, "/"); idx >= 0 {
				if n, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil {
					contentLength = n
				}
			}
		}
	} else if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			contentLength = n
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return Info{
		ContentLength: contentLength,
		ContentType:   contentType,
		SupportsRange: supportsRange,
	}, nil
}

// FetchRange retrieves the inclusive byte span [start, endInclusive].
func (h *HTTP) FetchRange(ctx context.Context, start, endInclusive int64) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", start, endInclusive)
	req, err := h.buildRequest(ctx, rangeHeader)
	if err != nil {
		return nil, proxyerr.New(proxyerr.KindFetchFailed, "origin.fetch_range", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, proxyerr.New(proxyerr.KindFetchFailed, "origin.fetch_range", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusPreconditionFailed:
		io.Copy(io.Discard, resp.Body)
		return nil, statusToErr("origin.fetch_range", resp.StatusCode)
	case http.StatusOK, http.StatusPartialContent:
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, statusToErr("origin.fetch_range", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, proxyerr.New(proxyerr.KindFetchFailed, "origin.fetch_range", err)
	}
	if want := endInclusive - start + 1; int64(len(data)) != want {
		return nil, proxyerr.New(proxyerr.KindFetchFailed, "origin.fetch_range", fmt.Errorf("got %d bytes, want %d", len(data), want))
	}
	return data, nil
}

// RefreshAuth is a best-effort no-op for the HTTP variant; real auth
// refresh happens out of band via UpdateAuth.
func (h *HTTP) RefreshAuth(ctx context.Context) error {
	return nil
}

// UpdateAuth mutates the URL/header pair under a writer lock. Empty
// strings and empty maps are ignored, per the control-API contract.
func (h *HTTP) UpdateAuth(newURL string, newHeaders map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if strings.TrimSpace(newURL) != "" {
		h.url = newURL
		if h.log != nil {
			logging.Component(h.log, "origin").Debugf("auth updated, new url: %s", utils.SanitizeForLog(newURL))
		}
	}
	if len(newHeaders) > 0 {
		h.headers = make(map[string]string, len(newHeaders))
		for k, v := range newHeaders {
			h.headers[k] = v
		}
	}
}
