package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/mediafetch/fetch-api/internal/domain"
)

// ApiKeyStore defines the interface for API key persistence.
// Version: 1.0
type ApiKeyStore interface {
	// Create persists a new key. Returns ErrKeyNameExists if a key with the
	// same name exists, or ErrDuplicate if the secret collides.
	Create(ctx context.Context, key *domain.ApiKey) error

	// GetByName retrieves a key by its unique name.
	// Returns ErrApiKeyNotFound if no such key exists.
	GetByName(ctx context.Context, name string) (*domain.ApiKey, error)

	// GetBySecret retrieves a key by its secret capability token.
	// Returns ErrApiKeyNotFound if no key holds the secret.
	GetBySecret(ctx context.Context, secret string) (*domain.ApiKey, error)

	// List returns all keys ordered by creation time.
	List(ctx context.Context) ([]*domain.ApiKey, error)

	// Delete removes a key by name. The key's tasks and usage entries are
	// cascade-deleted by the schema. Returns ErrApiKeyNotFound if absent.
	Delete(ctx context.Context, name string) error

	// Touch records the time of an authenticated access. Best-effort: the
	// caller treats failures as non-fatal.
	Touch(ctx context.Context, name string, at time.Time) error

	// WithTx returns an ApiKeyStore bound to the given transaction.
	WithTx(tx *sql.Tx) ApiKeyStore
}
