package edge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/MainListActivity/MaPlayer/pkg/origin"
	"github.com/MainListActivity/MaPlayer/pkg/registry"
	"github.com/MainListActivity/MaPlayer/pkg/session"
)

type fakeOrigin struct{ data []byte }

func (f *fakeOrigin) Probe(ctx context.Context) (origin.Info, error) {
	return origin.Info{ContentLength: int64(len(f.data)), ContentType: "video/mp4", SupportsRange: true}, nil
}
func (f *fakeOrigin) FetchRange(ctx context.Context, start, end int64) ([]byte, error) {
	out := make([]byte, end-start+1)
	copy(out, f.data[start:end+1])
	return out, nil
}
func (f *fakeOrigin) RefreshAuth(ctx context.Context) error                   { return nil }
func (f *fakeOrigin) UpdateAuth(newURL string, newHeaders map[string]string) {}

func newTestHandler(t *testing.T, contentLength int64) (*Handler, *session.Session) {
	t.Helper()
	dir, err := os.MkdirTemp("", "mapper-edge-test-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	data := make([]byte, contentLength)
	for i := range data {
		data[i] = byte(i % 256)
	}

	s, err := session.New(context.Background(), "0123456789abcdef0123456789abcdef", &fakeOrigin{data: data}, session.Config{
		CacheDir: dir, ChunkSize: 2 * 1024 * 1024, MaxConcurrency: 4,
	}, nil)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(s.Close)

	reg := registry.New()
	reg.Insert(s)
	return NewHandler(reg, nil), s
}

// T4 — HTTP range serve (10 MiB origin): GET with a small explicit
// range returns 206 with the exact bytes; HEAD returns 200 with
// Accept-Ranges; GET on an unknown id returns 404.
func TestServeStreamExplicitRange(t *testing.T) {
	h, s := newTestHandler(t, 10<<20)

	req := httptest.NewRequest(http.MethodGet, "/stream/"+s.ID, nil)
	req.Header.Set("Range", "bytes=0-1023")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.Len() != 1024 {
		t.Fatalf("body length = %d, want 1024", rec.Body.Len())
	}
	for i, b := range rec.Body.Bytes() {
		if b != byte(i%256) {
			t.Fatalf("byte %d = %d, want %d", i, b, i%256)
		}
	}
}

func TestServeStreamHead(t *testing.T) {
	h, s := newTestHandler(t, 10<<20)

	req := httptest.NewRequest(http.MethodHead, "/stream/"+s.ID, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Accept-Ranges") != "bytes" {
		t.Fatalf("Accept-Ranges = %q, want bytes", rec.Header().Get("Accept-Ranges"))
	}
}

func TestServeStreamUnknownIDIs404(t *testing.T) {
	h, _ := newTestHandler(t, 10<<20)

	req := httptest.NewRequest(http.MethodGet, "/stream/deadbeefdeadbeefdeadbeefdeadbeef", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestServeStreamOpenEndedRangeClamped(t *testing.T) {
	h, s := newTestHandler(t, 10<<20)

	req := httptest.NewRequest(http.MethodGet, "/stream/"+s.ID, nil)
	req.Header.Set("Range", "bytes=0-")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.Len() != StartupClampBytes {
		t.Fatalf("body length = %d, want clamp %d", rec.Body.Len(), StartupClampBytes)
	}
}

func TestServeStreamSuffixRange(t *testing.T) {
	h, s := newTestHandler(t, 10<<20)

	req := httptest.NewRequest(http.MethodGet, "/stream/"+s.ID, nil)
	req.Header.Set("Range", "bytes=-1024")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.Len() != 1024 {
		t.Fatalf("body length = %d, want 1024", rec.Body.Len())
	}
}

func TestServeStreamUnsatisfiableRangeIs416(t *testing.T) {
	h, s := newTestHandler(t, 10<<20)

	req := httptest.NewRequest(http.MethodGet, "/stream/"+s.ID, nil)
	req.Header.Set("Range", "bytes=999999999-1000000000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rec.Code)
	}
	if rec.Header().Get("Content-Range") == "" {
		t.Fatalf("missing Content-Range on 416 response")
	}
}

func TestServeStreamNoRangeHeaderClampedWhenLarge(t *testing.T) {
	h, s := newTestHandler(t, 10<<20)

	req := httptest.NewRequest(http.MethodGet, "/stream/"+s.ID, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206 (content larger than startup clamp)", rec.Code)
	}
	if rec.Body.Len() != StartupClampBytes {
		t.Fatalf("body length = %d, want clamp %d", rec.Body.Len(), StartupClampBytes)
	}
}

func TestServeStreamNoRangeHeaderFullBodyWhenSmall(t *testing.T) {
	h, s := newTestHandler(t, 1024)

	req := httptest.NewRequest(http.MethodGet, "/stream/"+s.ID, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (content smaller than startup clamp)", rec.Code)
	}
	if rec.Body.Len() != 1024 {
		t.Fatalf("body length = %d, want 1024", rec.Body.Len())
	}
}
