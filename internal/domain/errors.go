// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTaskType is returned when a task type is not one of the
	// known job kinds.
	ErrInvalidTaskType = errors.New("invalid task type")

	// ErrInvalidTaskStatus is returned when a task status is not valid.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidTransition is returned when a status change would leave a
	// terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidPermission is returned when a permission token is not part
	// of the fixed permission set.
	ErrInvalidPermission = errors.New("invalid permission")

	// ErrEmptyKeyName is returned when an API key name is empty.
	ErrEmptyKeyName = errors.New("key name cannot be empty")

	// ErrEmptySecret is returned when an API key secret is empty.
	ErrEmptySecret = errors.New("key secret cannot be empty")

	// ErrEmptyOwner is returned when a task or usage entry has no owning key.
	ErrEmptyOwner = errors.New("owner key name cannot be empty")

	// ErrNonPositiveSize is returned when a usage entry carries a size of
	// zero or less. Zero-size results are never recorded.
	ErrNonPositiveSize = errors.New("usage size must be positive")
)
