package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested record or binding was not found
	ErrNotFound = errors.New("not found")

	// ErrUnsupported indicates the backend does not support the operation
	ErrUnsupported = errors.New("operation not supported")

	// ErrDuplicateBinding indicates a binding uniqueness constraint fired.
	// Callers racing on binding creation convert this into a retryable error.
	ErrDuplicateBinding = errors.New("binding already exists")

	// ErrIntegrityFault indicates more than one binding matched an identity
	// that must be unique. This signals data corruption and is never retried.
	ErrIntegrityFault = errors.New("binding integrity fault")

	// ErrLockHeld indicates the per-record export lock is held by another worker
	ErrLockHeld = errors.New("record lock held")

	// ErrPipelineNotFound indicates no pipeline is registered for the
	// requested backend and entity type
	ErrPipelineNotFound = errors.New("pipeline not registered")
)

// retryableError wraps a transient failure. The job system reschedules the
// job with backoff; the core only classifies.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return "retryable: " + e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient so the surrounding job system retries it.
// Wrapping nil returns nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// Retryablef is Retryable with fmt.Errorf formatting.
func Retryablef(format string, args ...any) error {
	return &retryableError{err: fmt.Errorf(format, args...)}
}

// IsRetryable reports whether err (or any wrapped error) is transient.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// IdentityMissingError indicates an expected binding was absent where
// required. The worker retries it once before treating it as fatal.
type IdentityMissingError struct {
	EntityType string
	Key        string
}

func (e *IdentityMissingError) Error() string {
	return fmt.Sprintf("identity missing for %s %q", e.EntityType, e.Key)
}

// IdentityMissing constructs an IdentityMissingError.
func IdentityMissing(entityType, key string) error {
	return &IdentityMissingError{EntityType: entityType, Key: key}
}

// IsIdentityMissing reports whether err is an IdentityMissingError.
func IsIdentityMissing(err error) bool {
	var ie *IdentityMissingError
	return errors.As(err, &ie)
}

// ValidationError indicates mapped data failed a pre-flight check. Fatal:
// surfaced to the operator checkpoint queue, never retried automatically.
type ValidationError struct {
	EntityType string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed for %s: %s", e.EntityType, e.Reason)
	}
	return fmt.Sprintf("validation failed for %s.%s: %s", e.EntityType, e.Field, e.Reason)
}

// Validation constructs a ValidationError.
func Validation(entityType, field, reason string) error {
	return &ValidationError{EntityType: entityType, Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
