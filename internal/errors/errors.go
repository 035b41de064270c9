package errors

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for different failure categories
var (
	// ErrNotFound - resource not found (skill, policy, or intent owner)
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput - request or configuration failed validation
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized - shared secret missing or incorrect; a configuration error, never retried
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTransport - network-level failure talking to a skill host (refused, timeout, malformed body)
	ErrTransport = errors.New("transport failure")

	// ErrTransient - temporary condition, safe for the caller to retry with backoff
	ErrTransient = errors.New("transient error")

	// ErrInternal - unexpected internal failure
	ErrInternal = errors.New("internal error")
)

// NotFound wraps a message as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// InvalidInput wraps a message as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// Unauthorized wraps a message as an authentication failure
func Unauthorized(message string) error {
	return fmt.Errorf("%s: %w", message, ErrUnauthorized)
}

// Transport wraps an underlying error as a transport failure
func Transport(err error, message string) error {
	if err == nil {
		return fmt.Errorf("%s: %w", message, ErrTransport)
	}
	return fmt.Errorf("%s: %v: %w", message, err, ErrTransport)
}

// Transient wraps a message as transient
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Internal wraps a message as an internal error
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// IsRetryable reports whether the caller may reasonably retry the operation.
// Authentication failures are configuration errors and never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTransport)
}
