// Package shared holds helpers used across the HTTP handlers: context keys,
// and JSON response plumbing.
package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/mediafetch/fetch-api/internal/domain"
)

// ContextKey is the private key type for request context values.
type ContextKey string

const (
	// APIKeyContextKey carries the authenticated *domain.ApiKey.
	APIKeyContextKey ContextKey = "apiKey"

	// TraceIDKey carries the per-request trace ID.
	TraceIDKey ContextKey = "traceID"
)

// WithAPIKey stores the authenticated key on the context.
func WithAPIKey(ctx context.Context, key *domain.ApiKey) context.Context {
	return context.WithValue(ctx, APIKeyContextKey, key)
}

// APIKeyFromContext returns the authenticated key, or nil when the request
// did not pass authentication middleware.
func APIKeyFromContext(ctx context.Context) *domain.ApiKey {
	key, _ := ctx.Value(APIKeyContextKey).(*domain.ApiKey)
	return key
}

// SetTraceID attaches a fresh random trace ID to the context.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, newTraceID())
}

// GetTraceID returns the request's trace ID, or "" when absent.
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(TraceIDKey).(string)
	return id
}

func newTraceID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
