// Package service provides the application-level operations behind the HTTP
// surface: task submission and status, and API key lifecycle management.
package service

import "errors"

// Sentinel errors callers check with errors.Is. The API layer maps them to
// HTTP status codes.
var (
	// ErrPermissionDenied indicates the key lacks the capability token an
	// operation requires. Maps to 403.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotOwned indicates a task belongs to a different key than the one
	// asking for it. Maps to 403.
	ErrNotOwned = errors.New("task is owned by another key")

	// ErrKeyInactive indicates the presented key exists but was deactivated.
	// Maps to 401.
	ErrKeyInactive = errors.New("api key is inactive")

	// ErrInvalidSecret indicates no key matches the presented secret.
	// Maps to 401.
	ErrInvalidSecret = errors.New("invalid api key")

	// ErrLastKeyManager indicates the deletion target is the only remaining
	// key able to create keys; removing it would lock key management out
	// entirely. Maps to 409.
	ErrLastKeyManager = errors.New("cannot delete the last key with create_key permission")

	// ErrSelfDeletion indicates a key tried to delete itself. Maps to 409.
	ErrSelfDeletion = errors.New("a key cannot delete itself")
)
