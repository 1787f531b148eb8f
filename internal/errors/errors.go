// Package errors provides the shared NonRetryableError type used to
// distinguish terminal per-artifact failures (name-convention misses,
// schema rejections) from transient ones the retry layers should keep
// retrying (§7).
package errors

import (
	"errors"
	"fmt"
)

// NonRetryableError represents an error that should not be retried.
// Operations that encounter this error type should fail immediately
// without retry attempts.
type NonRetryableError struct {
	message string
	cause   error
}

// Error implements the error interface.
func (e *NonRetryableError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying cause error for error unwrapping.
func (e *NonRetryableError) Unwrap() error {
	return e.cause
}

// Is checks if the target error is a NonRetryableError.
func (e *NonRetryableError) Is(target error) bool {
	_, ok := target.(*NonRetryableError)
	return ok
}

// NewNonRetryableError creates a new non-retryable error with a message and optional cause.
func NewNonRetryableError(message string, cause error) error {
	return &NonRetryableError{
		message: message,
		cause:   cause,
	}
}

// WrapNonRetryable wraps an existing error as non-retryable.
func WrapNonRetryable(cause error) error {
	if cause == nil {
		return nil
	}
	return &NonRetryableError{
		message: "operation failed with non-retryable error",
		cause:   cause,
	}
}

// IsNonRetryable checks if an error is non-retryable.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nonRetryableErr *NonRetryableError
	return errors.As(err, &nonRetryableErr)
}

// Sentinel errors for common non-retryable conditions across the
// pipeline (§4.2, §4.6, §9).
var (
	// ErrNameConventionMiss indicates the tokenizer could not parse a
	// centre/date/increment/kind token set out of a candidate name.
	ErrNameConventionMiss = &NonRetryableError{
		message: "name does not match zip or xml naming convention",
		cause:   nil,
	}

	// ErrUnsupportedProtocol indicates a FileSource's protocol has no
	// discovery driver (e.g. the seeded but unimplemented http protocol).
	ErrUnsupportedProtocol = &NonRetryableError{
		message: "no discovery driver for this file source's protocol",
		cause:   nil,
	}

	// ErrLockCorrupt indicates the single-instance lock path exists but
	// is not a regular file (§4.5).
	ErrLockCorrupt = &NonRetryableError{
		message: "instance lock path is not a regular file",
		cause:   nil,
	}
)
