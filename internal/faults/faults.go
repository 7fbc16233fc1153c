// Package faults defines the tagged error kinds shared across the harvest and
// query paths. The kind is decided where the error originates, never inferred
// downstream from message text.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a fault for retry and reporting decisions.
type Kind int

const (
	// KindValidation marks bad or missing input. Never retried.
	KindValidation Kind = iota
	// KindTransient marks network blips and store throttling. Retryable.
	KindTransient
	// KindNotFound marks a missing resource on a point lookup. Never retried.
	KindNotFound
	// KindPersistence marks a store write that exhausted its retries.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Fault wraps an underlying error with its kind.
type Fault struct {
	Kind Kind
	Err  error
}

func (f *Fault) Error() string { return f.Kind.String() + ": " + f.Err.Error() }
func (f *Fault) Unwrap() error { return f.Err }

// Validation tags an input error.
func Validation(format string, args ...any) error {
	return &Fault{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// Transient tags an error as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: KindTransient, Err: err}
}

// NotFound tags a missing-resource error.
func NotFound(format string, args ...any) error {
	return &Fault{Kind: KindNotFound, Err: fmt.Errorf(format, args...)}
}

// Persistence tags a store write failure.
func Persistence(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: KindPersistence, Err: err}
}

// KindOf extracts the kind of err, or (0, false) when err carries none.
func KindOf(err error) (Kind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}

// IsRetryable reports whether err is safe to retry. Only transient faults
// qualify; validation and not-found faults are never retryable, and untagged
// errors are treated as non-retryable.
func IsRetryable(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTransient
}

// IsValidation reports whether err is an input fault.
func IsValidation(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindValidation
}

// IsNotFound reports whether err is a missing-resource fault.
func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}
