// Package edge implements the loopback HTTP edge (spec §6): GET/HEAD
// /stream/{id}, translating inbound Range headers into [start, end)
// coordinates and emitting standard partial-content responses.
package edge

import (
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/MainListActivity/MaPlayer/pkg/logging"
	"github.com/MainListActivity/MaPlayer/pkg/middleware"
	"github.com/MainListActivity/MaPlayer/pkg/proxyerr"
	"github.com/MainListActivity/MaPlayer/pkg/registry"
)

// StartupClampBytes bounds the body length served for open-ended and
// missing Range requests.
const StartupClampBytes = 512 * 1024

// Handler serves GET/HEAD /stream/{id} against a Registry.
type Handler struct {
	registry *registry.Registry
	log      logging.Logger
	inner    http.Handler
}

// NewHandler wires the /stream/{id} route against reg, wrapped in CORS
// handling so a browser- or webview-hosted player can fetch from it.
func NewHandler(reg *registry.Registry, log logging.Logger) *Handler {
	h := &Handler{registry: reg, log: log}
	h.inner = middleware.CORS(nil, http.HandlerFunc(h.serveStream))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.inner.ServeHTTP(w, r)
}

// serveStream is the sole route this edge exposes. It normalizes a
// repeated-slash path before matching the /stream/ prefix, the one
// behavior a general-purpose mux would otherwise have supplied.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.URL.Path, "//") {
		r.URL.Path = path.Clean(r.URL.Path)
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/stream/") {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/stream/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	sess, ok := h.registry.Lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	total := sess.ContentLength

	// HEAD describes the whole resource, independent of any Range
	// header: clients use it to discover total length before issuing
	// the ranged GETs that actually stream bytes.
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", sess.ContentType)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.FormatInt(total, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	start, end, status, err := resolveRange(r.Header.Get("Range"), total)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Content-Type", sess.ContentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(end-start, 10))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, total))
	}
	w.WriteHeader(status)

	if _, err := sess.ServeRange(r.Context(), start, end, w); err != nil {
		if h.log != nil {
			logging.Component(h.log, "edge").WithError(err).Warn("serve_range failed mid-stream")
		}
	}
}

// resolveRange translates an inbound Range header into [start, end)
// exclusive byte coordinates per the edge contract in §6:
//   - "bytes=S-E": serve [S, E+1); 416 if S >= total or E+1 <= S.
//   - "bytes=S-": serve [S, min(total, S+startup_clamp)).
//   - "bytes=-L": serve [max(0, total-L), total).
//   - no Range header: serve [0, min(total, startup_clamp)).
func resolveRange(header string, total int64) (start, end int64, status int, err error) {
	if header == "" {
		end = total
		if StartupClampBytes < end {
			end = StartupClampBytes
		}
		if end < total {
			return 0, end, http.StatusPartialContent, nil
		}
		return 0, end, http.StatusOK, nil
	}

	spec := strings.TrimPrefix(header, "bytes=")
	if spec == header {
		return 0, 0, 0, proxyerr.New(proxyerr.KindInvalidRange, "edge.resolve_range", fmt.Errorf("missing bytes= prefix"))
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, 0, proxyerr.New(proxyerr.KindInvalidRange, "edge.resolve_range", fmt.Errorf("malformed range"))
	}

	switch {
	case parts[0] == "" && parts[1] != "":
		// Suffix range: bytes=-L
		length, perr := strconv.ParseInt(parts[1], 10, 64)
		if perr != nil || length < 0 {
			return 0, 0, 0, proxyerr.New(proxyerr.KindInvalidRange, "edge.resolve_range", perr)
		}
		s := total - length
		if s < 0 {
			s = 0
		}
		return s, total, http.StatusPartialContent, nil

	case parts[1] == "":
		// Open-ended range: bytes=S-
		s, perr := strconv.ParseInt(parts[0], 10, 64)
		if perr != nil || s < 0 || s >= total {
			return 0, 0, 0, proxyerr.New(proxyerr.KindInvalidRange, "edge.resolve_range", perr)
		}
		e := s + StartupClampBytes
		if e > total {
			e = total
		}
		return s, e, http.StatusPartialContent, nil

	default:
		// Explicit range: bytes=S-E
		s, perr1 := strconv.ParseInt(parts[0], 10, 64)
		e, perr2 := strconv.ParseInt(parts[1], 10, 64)
		if perr1 != nil || perr2 != nil {
			return 0, 0, 0, proxyerr.New(proxyerr.KindInvalidRange, "edge.resolve_range", fmt.Errorf("malformed range bounds"))
		}
		if s >= total || e+1 <= s {
			return 0, 0, 0, proxyerr.New(proxyerr.KindInvalidRange, "edge.resolve_range", fmt.Errorf("unsatisfiable range"))
		}
		end := e + 1
		if end > total {
			end = total
		}
		return s, end, http.StatusPartialContent, nil
	}
}
