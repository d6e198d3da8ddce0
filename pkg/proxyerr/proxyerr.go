// Package proxyerr defines the error taxonomy shared across the streaming
// engine: a small set of kinds that every component wraps its failures in,
// so the control API and the HTTP edge can map them to the right response
// without inspecting error strings.
package proxyerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// KindUnknown is the zero value; never produced deliberately.
	KindUnknown Kind = iota
	// KindNotInitialized means a control call arrived before init_engine.
	KindNotInitialized
	// KindNotFound means a session id wasn't present in the registry.
	KindNotFound
	// KindUnsupported means the origin has zero length or no range support.
	KindUnsupported
	// KindAuthRejected means the origin returned 401/403/412.
	KindAuthRejected
	// KindFetchFailed means a transport/other origin failure.
	KindFetchFailed
	// KindCacheMiss means a chunk the caller waited on never completed.
	KindCacheMiss
	// KindInvalidRange means start >= end or another range precondition failed.
	KindInvalidRange
	// KindInternal covers cache write inconsistency, mmap failure, and
	// other conditions that should not occur given correct callers.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotInitialized:
		return "not_initialized"
	case KindNotFound:
		return "not_found"
	case KindUnsupported:
		return "unsupported"
	case KindAuthRejected:
		return "auth_rejected"
	case KindFetchFailed:
		return "fetch_failed"
	case KindCacheMiss:
		return "cache_miss"
	case KindInvalidRange:
		return "invalid_range"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the concrete error type produced by every component. Op names
// the failing operation (e.g. "cache.put_chunk") for human-readable
// messages; Err, when present, is the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error carrying the same Kind, so callers
// can write errors.Is(err, proxyerr.New(proxyerr.KindNotFound, "", nil))
// or more idiomatically use the package-level Is helper below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs an *Error. wrapped may be nil.
func New(kind Kind, op string, wrapped error) error {
	return &Error{Kind: kind, Op: op, Err: wrapped}
}

// Of reports the Kind of err, or KindUnknown if err is not (or does not
// wrap) a *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
