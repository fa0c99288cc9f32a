// Package api implements the HTTP surface: task submission and status, key
// management, and artifact file serving.
package api

import (
	"errors"
	"net/http"

	"github.com/mediafetch/fetch-api/internal/admission"
	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/redact"
	"github.com/mediafetch/fetch-api/internal/service"
	"github.com/mediafetch/fetch-api/internal/store"
)

// MapErrorToStatusCode translates internal errors into HTTP status codes
// without leaking internal detail to clients.
func MapErrorToStatusCode(err error) int {
	var rateErr *admission.RateLimitError

	switch {
	case errors.Is(err, service.ErrInvalidSecret),
		errors.Is(err, service.ErrKeyInactive):
		return http.StatusUnauthorized

	case errors.Is(err, service.ErrPermissionDenied),
		errors.Is(err, service.ErrNotOwned):
		return http.StatusForbidden

	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrApiKeyNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrKeyNameExists),
		errors.Is(err, service.ErrLastKeyManager),
		errors.Is(err, service.ErrSelfDeletion):
		return http.StatusConflict

	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests

	case errors.Is(err, admission.ErrAdmissionRejected):
		return http.StatusServiceUnavailable

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidTaskType),
		errors.Is(err, domain.ErrInvalidPermission),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns the client-facing message for an error.
// Policy errors carry their own text; everything else is generic.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, service.ErrInvalidSecret),
		errors.Is(err, service.ErrKeyInactive):
		return "Invalid or inactive API key"

	case errors.Is(err, service.ErrPermissionDenied),
		errors.Is(err, service.ErrNotOwned):
		return "Permission denied"

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrApiKeyNotFound):
		return "API key not found"

	case errors.Is(err, store.ErrKeyNameExists):
		return "A key with this name already exists"

	case errors.Is(err, service.ErrLastKeyManager),
		errors.Is(err, service.ErrSelfDeletion),
		errors.Is(err, admission.ErrAdmissionRejected),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidTaskType),
		errors.Is(err, domain.ErrInvalidPermission):
		// Policy and validation messages are written for clients, but are
		// still scrubbed in case wrapped detail carries anything sensitive.
		return redact.Error(err)

	default:
		return "Internal server error"
	}
}
