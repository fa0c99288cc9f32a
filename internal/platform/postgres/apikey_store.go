package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/platform/logger"
	"github.com/mediafetch/fetch-api/internal/store"
)

// PostgresApiKeyStore implements the store.ApiKeyStore interface using
// PostgreSQL.
type PostgresApiKeyStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresApiKeyStore creates a new PostgreSQL implementation of the
// ApiKeyStore interface.
func NewPostgresApiKeyStore(db store.DBTX, logger *slog.Logger) *PostgresApiKeyStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresApiKeyStore{
		db:     db,
		logger: logger.With(slog.String("component", "apikey_store")),
	}
}

// Ensure PostgresApiKeyStore implements store.ApiKeyStore.
var _ store.ApiKeyStore = (*PostgresApiKeyStore)(nil)

const apiKeyColumns = "name, secret, permissions, memory_quota_bytes, is_active, created_at, last_used_at"

// Create implements store.ApiKeyStore.Create.
func (s *PostgresApiKeyStore) Create(ctx context.Context, key *domain.ApiKey) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := key.Validate(); err != nil {
		return err
	}

	permissions, err := json.Marshal(key.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	query := `
		INSERT INTO api_keys (name, secret, permissions, memory_quota_bytes, is_active, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		key.Name,
		key.Secret,
		permissions,
		key.MemoryQuotaBytes,
		key.Active,
		key.CreatedAt,
		key.LastUsedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Warn("api key name already taken", slog.String("key_name", key.Name))
			return store.ErrKeyNameExists
		}
		log.Error("failed to create api key",
			slog.String("key_name", key.Name),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	return nil
}

// GetByName implements store.ApiKeyStore.GetByName.
func (s *PostgresApiKeyStore) GetByName(ctx context.Context, name string) (*domain.ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE name = $1`

	key, err := scanApiKey(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrApiKeyNotFound
		}
		return nil, MapError(err)
	}
	return key, nil
}

// GetBySecret implements store.ApiKeyStore.GetBySecret.
func (s *PostgresApiKeyStore) GetBySecret(ctx context.Context, secret string) (*domain.ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE secret = $1`

	key, err := scanApiKey(s.db.QueryRowContext(ctx, query, secret))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrApiKeyNotFound
		}
		return nil, MapError(err)
	}
	return key, nil
}

// List implements store.ApiKeyStore.List.
func (s *PostgresApiKeyStore) List(ctx context.Context) ([]*domain.ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys ORDER BY created_at ASC, name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var keys []*domain.ApiKey
	for rows.Next() {
		key, err := scanApiKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return keys, nil
}

// Delete implements store.ApiKeyStore.Delete. Tasks and usage entries owned
// by the key go with it through ON DELETE CASCADE.
func (s *PostgresApiKeyStore) Delete(ctx context.Context, name string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE name = $1`, name)
	if err != nil {
		log.Error("failed to delete api key",
			slog.String("key_name", name),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return CheckRowsAffected(res, store.ErrApiKeyNotFound)
}

// Touch implements store.ApiKeyStore.Touch.
func (s *PostgresApiKeyStore) Touch(ctx context.Context, name string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE name = $2`,
		at.UTC(), name)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(res, store.ErrApiKeyNotFound)
}

// WithTx implements store.ApiKeyStore.WithTx.
func (s *PostgresApiKeyStore) WithTx(tx *sql.Tx) store.ApiKeyStore {
	return &PostgresApiKeyStore{db: tx, logger: s.logger}
}

func scanApiKey(row rowScanner) (*domain.ApiKey, error) {
	var (
		key         domain.ApiKey
		permissions []byte
		lastUsedAt  sql.NullTime
	)
	err := row.Scan(
		&key.Name,
		&key.Secret,
		&permissions,
		&key.MemoryQuotaBytes,
		&key.Active,
		&key.CreatedAt,
		&lastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &key.Permissions); err != nil {
			return nil, fmt.Errorf("failed to decode permissions: %w", err)
		}
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		key.LastUsedAt = &t
	}
	return &key, nil
}
