package fetch

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies terminal fetch failures
type FailureKind string

const (
	// FailureNotFound means the origin reports the item as gone or hidden
	FailureNotFound FailureKind = "NotFound"

	// FailureBlocked means the origin refused the request (forbidden,
	// rate-limited, or bot-detected)
	FailureBlocked FailureKind = "Blocked"

	// FailureNetwork covers transport-level errors
	FailureNetwork FailureKind = "Network"

	// FailureFormatUnavailable means the requested format specifier
	// matched no downloadable stream
	FailureFormatUnavailable FailureKind = "FormatUnavailable"

	// FailureInvalidFormat means the capability rejected the format
	// specifier itself as structurally invalid
	FailureInvalidFormat FailureKind = "InvalidFormat"

	// FailureTimeout means the per-item timeout expired mid-attempt
	FailureTimeout FailureKind = "Timeout"

	// FailureCancelled means the run was cancelled before the item
	// reached a terminal outcome
	FailureCancelled FailureKind = "Cancelled"

	// FailureUnknown is the fallback for unclassified errors
	FailureUnknown FailureKind = "Unknown"
)

// String returns the string representation of FailureKind
func (k FailureKind) String() string {
	return string(k)
}

// Retryable reports whether another attempt against the same item can
// plausibly succeed. Not-found items stay not found; cancelled runs stay
// cancelled.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureNotFound, FailureCancelled:
		return false
	default:
		return true
	}
}

// Error wraps an underlying fetch failure with its classification.
type Error struct {
	Kind FailureKind
	Err  error
}

// NewError builds a classified fetch error.
func NewError(kind FailureKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch failed (%s)", e.Kind)
	}
	return fmt.Sprintf("fetch failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure classification from an error chain.
// Context errors classify as timeout/cancelled even when the capability
// returned them unwrapped.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	if errors.Is(err, context.Canceled) {
		return FailureCancelled
	}

	return FailureUnknown
}
