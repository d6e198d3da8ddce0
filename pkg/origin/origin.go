// Package origin implements the polymorphic origin adapter (spec
// component C1): probing, byte-range fetch, and auth refresh over a
// capability interface with HTTP and container-wrapped variants.
package origin

import (
	"context"
)

// Info is the result of a successful Probe.
type Info struct {
	ContentLength int64
	ContentType   string
	SupportsRange bool
}

// Origin is the capability set every variant implements: probe, ranged
// fetch, and a best-effort auth refresh hint. Concrete variants (HTTP,
// container-wrapped) are tagged alternatives composed by decoration,
// never by inheritance.
type Origin interface {
	// Probe discovers content length, content type, and range support.
	// It fails with proxyerr.KindAuthRejected on 401/403/412, or
	// proxyerr.KindFetchFailed on any other origin failure.
	Probe(ctx context.Context) (Info, error)

	// FetchRange retrieves the inclusive byte span [start, endInclusive]
	// and returns exactly endInclusive - start + 1 bytes on success.
	FetchRange(ctx context.Context, start, endInclusive int64) ([]byte, error)

	// RefreshAuth is a best-effort hint that credentials should be
	// refreshed. The default implementation is a no-op.
	RefreshAuth(ctx context.Context) error

	// UpdateAuth mutates the URL/header pair under a writer lock for
	// in-place token refresh. Empty values are ignored.
	UpdateAuth(newURL string, newHeaders map[string]string)
}
