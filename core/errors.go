package core

import (
	"errors"
	"fmt"

	"github.com/qprotocol/qmem/hashing"
)

var (
	// ErrDuplicateReceipt is returned when a receipt id already exists in the
	// container. Receipts are immutable; a retry must use a fresh id.
	ErrDuplicateReceipt = errors.New("duplicate receipt id")

	// ErrDuplicateSnapshot is returned when a state snapshot id already
	// exists in the container.
	ErrDuplicateSnapshot = errors.New("duplicate snapshot id")

	// ErrIntegrity marks a failed container integrity check. A container
	// failing verification must not have any of its records trusted.
	ErrIntegrity = errors.New("container integrity violation")

	// ErrWrite marks a failed durable write. The in-memory container remains
	// valid and the save may be retried.
	ErrWrite = errors.New("container write failed")
)

// ValidationError reports a malformed record or operation key. Duplicate id
// rejections carry the matching sentinel so callers can test with errors.Is.
type ValidationError struct {
	Field    string
	Reason   string
	Sentinel error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Unwrap exposes the sentinel (ErrDuplicateReceipt etc.), if any.
func (e *ValidationError) Unwrap() error { return e.Sentinel }

// NewValidationError constructs a ValidationError without a sentinel.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IntegrityError reports a content hash mismatch discovered while loading or
// verifying a container. It identifies the offending container and source so
// operators can quarantine the file.
type IntegrityError struct {
	ContainerID string
	Path        string
	Want        hashing.Digest
	Got         hashing.Digest
	Reason      string
}

func (e *IntegrityError) Error() string {
	msg := "container integrity violation"
	if e.ContainerID != "" {
		msg += " in " + e.ContainerID
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	return fmt.Sprintf("%s: content hash %s, recomputed %s", msg, e.Want, e.Got)
}

// Unwrap lets errors.Is match ErrIntegrity.
func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// WriteError reports an I/O failure while persisting a container. Unwrap
// exposes the underlying cause; errors.Is also matches ErrWrite.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("container write failed: %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is matches the ErrWrite sentinel in addition to the wrapped cause.
func (e *WriteError) Is(target error) bool { return target == ErrWrite }
