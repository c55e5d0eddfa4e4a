// Package errors provides shared error types used across multiple packages.
// This package exists to avoid import cycles between the fetch, remote and api packages.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common document conditions.
var (
	// ErrNotFound indicates that a document has no remote id or could not be fetched and nothing is cached.
	ErrNotFound = errors.New("document not found")

	// ErrBadRequest indicates malformed input from an API caller.
	ErrBadRequest = errors.New("bad request")

	// ErrUnauthorized indicates a request without a valid session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidKey indicates a cache key that escapes the cache root or is empty.
	ErrInvalidKey = &NonRetryableError{
		message: "invalid document key",
		cause:   ErrBadRequest,
	}
)

// FetchError represents a failed remote transfer for a single key.
// It matches ErrNotFound with errors.Is so callers can map it to a 404.
type FetchError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Key, e.Err)
}

// Unwrap returns the underlying transfer error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports ErrNotFound as a match.
func (e *FetchError) Is(target error) bool {
	return target == ErrNotFound
}

// NewFetchError wraps a remote transfer error for key.
func NewFetchError(key string, err error) error {
	return &FetchError{Key: key, Err: err}
}

// IsNotFound checks if an error should be surfaced as a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

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
