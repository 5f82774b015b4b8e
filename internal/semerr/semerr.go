// Package semerr defines the error taxonomy shared across the indexing and
// query path, so callers can branch on Kind instead of matching strings.
package semerr

import "fmt"

// Kind classifies an error for metrics partitioning and caller handling.
type Kind string

const (
	// Config indicates missing or invalid configuration. Fatal at startup.
	Config Kind = "config"

	// DimensionMismatch indicates an embedding's length didn't match the
	// workspace's established dimension D. Fatal for the affected operation.
	DimensionMismatch Kind = "dimension_mismatch"

	// EmbedProvider indicates the embedding provider rejected or failed a
	// request. Transient sub-kind is retried; permanent surfaces to the caller.
	EmbedProvider Kind = "embed_provider"

	// Io indicates a filesystem or mmap error.
	Io Kind = "io"

	// Storage indicates a vector-store internal error.
	Storage Kind = "storage"

	// Codec indicates compression/decompression failure. Treated as data
	// corruption: the caller should evict the offending cache entry.
	Codec Kind = "codec"

	// Timeout indicates an operation exceeded its deadline.
	Timeout Kind = "timeout"

	// Cancelled indicates cooperative cancellation.
	Cancelled Kind = "cancelled"
)

// Error is the single result type used across the core; it carries a Kind so
// callers and C10 metrics can partition without string matching, plus an
// optional Transient flag for retry policy decisions.
type Error struct {
	Kind      Kind
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given Kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf wraps a formatted error with the given Kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Transient wraps err with the given Kind and marks it retryable.
func Transient(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err, Transient: true}
}

// IsKind reports whether err (or something it wraps) is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if As(err, &e) {
		return e.Kind == k
	}
	return false
}

// IsTransient reports whether err is a *Error marked Transient.
func IsTransient(err error) bool {
	var e *Error
	if As(err, &e) {
		return e.Transient
	}
	return false
}

// As is a thin indirection over errors.As to avoid importing "errors" in
// every call site that only needs Kind inspection.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
