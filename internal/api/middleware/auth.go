// Package middleware provides HTTP middleware for the API surface.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mediafetch/fetch-api/internal/api/shared"
	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/service"
)

// headerName is where clients present their secret.
const headerName = "X-API-Key"

// Authenticator resolves a presented secret to an API key.
type Authenticator interface {
	Authenticate(ctx context.Context, secret string) (*domain.ApiKey, error)
}

// Auth authenticates requests by API key secret.
type Auth struct {
	keys   Authenticator
	logger *slog.Logger
}

// NewAuth creates the authentication middleware.
func NewAuth(keys Authenticator, logger *slog.Logger) *Auth {
	if keys == nil {
		panic("authenticator cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Auth{keys: keys, logger: logger.With(slog.String("component", "auth"))}
}

// Authenticate rejects requests without a valid, active key and stores the
// resolved key on the request context for handlers.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get(headerName)
		key, err := a.keys.Authenticate(r.Context(), secret)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidSecret), errors.Is(err, service.ErrKeyInactive):
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid or inactive API key")
			default:
				a.logger.Error("authentication lookup failed", slog.String("error", err.Error()))
				shared.RespondWithError(w, r, http.StatusInternalServerError, "Internal server error")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(shared.WithAPIKey(r.Context(), key)))
	})
}

// RequirePermission gates a route on one capability token. It must run after
// Authenticate.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := shared.APIKeyFromContext(r.Context())
			if key == nil || !key.HasPermission(perm) {
				shared.RespondWithError(w, r, http.StatusForbidden, "Permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
