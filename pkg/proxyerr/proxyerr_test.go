package proxyerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestOfAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindFetchFailed, "downloader.fetch", cause)

	if got := Of(err); got != KindFetchFailed {
		t.Fatalf("Of() = %v, want %v", got, KindFetchFailed)
	}
	if !Is(err, KindFetchFailed) {
		t.Fatalf("Is(KindFetchFailed) = false, want true")
	}
	if Is(err, KindNotFound) {
		t.Fatalf("Is(KindNotFound) = true, want false")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false, want true")
	}
}

func TestOfPlainError(t *testing.T) {
	if got := Of(errors.New("plain")); got != KindUnknown {
		t.Fatalf("Of(plain) = %v, want KindUnknown", got)
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(KindInvalidRange, "session.serve_range", nil)
	want := "session.serve_range: invalid_range"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := fmt.Errorf("context: %w", New(KindNotFound, "registry.get", nil))
	if !Is(wrapped, KindNotFound) {
		t.Fatalf("Is(wrapped, KindNotFound) = false, want true")
	}
}
