// Package errors holds the sentinel errors every layer wraps. The HTTP layer
// maps them to status codes, so use cases never deal with transport details.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested batch or item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the request clashes with the current state, such as a
	// batch that is already running or a status transition the lifecycle forbids.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates the input data is invalid or fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable indicates a backing service (run lock store, donation
	// processor) could not be reached. Callers may retry later.
	ErrUnavailable = errors.New("service unavailable")
)

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context while preserving the error chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Unavailable marks err as caused by an unreachable dependency. The result
// matches both ErrUnavailable and err.
func Unavailable(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", message, ErrUnavailable, err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
