package domain

import (
	"errors"
	"fmt"
)

// Run-fatal conditions: nothing useful can happen once these fire, so the
// orchestrator aborts instead of reporting a partial run as success.
var (
	ErrCatalogUnavailable   = errors.New("catalog store unavailable")
	ErrLockStoreUnavailable = errors.New("lock store unavailable")
)

// ErrKeyConflict signals that a storage key already holds different content.
// The store is append-only, so this is never resolved automatically.
var ErrKeyConflict = errors.New("storage key already holds different content")

// Class buckets per-item errors for retry decisions and the run report.
type Class string

const (
	ClassTransient    Class = "transient"
	ClassPermanent    Class = "permanent"
	ClassInconsistent Class = "inconsistent"
)

// ItemError attaches a Class to an underlying per-item failure.
type ItemError struct {
	Class Class
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable (timeouts, 5xx, rate limits).
func Transient(err error) error {
	return &ItemError{Class: ClassTransient, Err: err}
}

// Permanent wraps err as not worth retrying (404, malformed content).
func Permanent(err error) error {
	return &ItemError{Class: ClassPermanent, Err: err}
}

// Inconsistent wraps err as a consistency anomaly needing operator attention.
func Inconsistent(err error) error {
	return &ItemError{Class: ClassInconsistent, Err: err}
}

// ClassOf extracts the error class, defaulting to transient so unknown
// failures stay retryable on a future run.
func ClassOf(err error) Class {
	var ie *ItemError
	if errors.As(err, &ie) {
		return ie.Class
	}
	if errors.Is(err, ErrKeyConflict) {
		return ClassInconsistent
	}
	return ClassTransient
}
