package registry

import (
	"context"
	"os"
	"testing"

	"github.com/MainListActivity/MaPlayer/pkg/origin"
	"github.com/MainListActivity/MaPlayer/pkg/session"
)

type fakeOrigin struct{ size int64 }

func (f *fakeOrigin) Probe(ctx context.Context) (origin.Info, error) {
	return origin.Info{ContentLength: f.size, ContentType: "video/mp4", SupportsRange: true}, nil
}
func (f *fakeOrigin) FetchRange(ctx context.Context, start, end int64) ([]byte, error) {
	return make([]byte, end-start+1), nil
}
func (f *fakeOrigin) RefreshAuth(ctx context.Context) error                   { return nil }
func (f *fakeOrigin) UpdateAuth(newURL string, newHeaders map[string]string) {}

func newTestSessionForID(t *testing.T, id string) *session.Session {
	t.Helper()
	dir, err := os.MkdirTemp("", "mapper-registry-test-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := session.New(context.Background(), id, &fakeOrigin{size: 1 << 20}, session.Config{
		CacheDir: dir, ChunkSize: 64 * 1024, MaxConcurrency: 4,
	}, nil)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return s
}

func TestInsertReplacesAllPriorSessions(t *testing.T) {
	r := New()
	s1 := newTestSessionForID(t, "11111111111111111111111111111111")
	s2 := newTestSessionForID(t, "22222222222222222222222222222222")

	r.Insert(s1)
	r.Insert(s2)

	if _, ok := r.Lookup(s1.ID); ok {
		t.Fatalf("Lookup(s1) found entry, want evicted on new id insert")
	}
	if got, ok := r.Lookup(s2.ID); !ok || got != s2 {
		t.Fatalf("Lookup(s2) = %v, %v, want s2, true", got, ok)
	}
}

func TestInsertReusesSameID(t *testing.T) {
	r := New()
	s1 := newTestSessionForID(t, "33333333333333333333333333333333")
	r.Insert(s1)

	returned := r.Insert(s1)
	if returned != s1 {
		t.Fatalf("Insert() with existing id returned a different session")
	}
}

func TestCloseRemovesSession(t *testing.T) {
	r := New()
	s := newTestSessionForID(t, "44444444444444444444444444444444")
	r.Insert(s)

	if err := r.Close(s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := r.Lookup(s.ID); ok {
		t.Fatalf("session still present after Close")
	}
}

func TestCloseUnknownIDReturnsNotFound(t *testing.T) {
	r := New()
	if err := r.Close("deadbeefdeadbeefdeadbeefdeadbeef"); err == nil {
		t.Fatalf("Close() for unknown id succeeded, want NotFound error")
	}
}

func TestStatsAggregatesAcrossSessions(t *testing.T) {
	r := New()
	s := newTestSessionForID(t, "55555555555555555555555555555555"[:32])
	r.Insert(s)

	if _, err := r.Stats(""); err != nil {
		t.Fatalf("Stats(\"\"): %v", err)
	}
	if _, err := r.Stats(s.ID); err != nil {
		t.Fatalf("Stats(id): %v", err)
	}
	if _, err := r.Stats("unknown"); err == nil {
		t.Fatalf("Stats(unknown) succeeded, want NotFound error")
	}
}
