package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/store"
)

// KeyService manages the API key registry.
type KeyService struct {
	keys         store.ApiKeyStore
	defaultQuota int64
	logger       *slog.Logger

	now func() time.Time
}

// NewKeyService creates a KeyService. defaultQuota is applied to new keys
// created without an explicit quota; zero or less means unlimited.
func NewKeyService(keys store.ApiKeyStore, defaultQuota int64, logger *slog.Logger) *KeyService {
	if keys == nil {
		panic("key store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyService{
		keys:         keys,
		defaultQuota: defaultQuota,
		logger:       logger.With(slog.String("component", "key_service")),
		now:          time.Now,
	}
}

// GenerateSecret returns a cryptographically random URL-safe secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create registers a new key with a freshly generated secret. An unset quota
// falls back to the service default. Unknown permission tokens are rejected;
// a taken name surfaces as store.ErrKeyNameExists.
func (s *KeyService) Create(
	ctx context.Context,
	name string,
	permissions []string,
	quota *int64,
) (*domain.ApiKey, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	quotaBytes := s.defaultQuota
	if quota != nil {
		quotaBytes = *quota
	}

	key, err := domain.NewApiKey(name, secret, permissions, quotaBytes)
	if err != nil {
		return nil, err
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}

	s.logger.Info("api key created",
		slog.String("key_name", name),
		slog.Int64("quota_bytes", quotaBytes))
	return key, nil
}

// Get returns one key by name.
func (s *KeyService) Get(ctx context.Context, name string) (*domain.ApiKey, error) {
	return s.keys.GetByName(ctx, name)
}

// List returns every registered key.
func (s *KeyService) List(ctx context.Context) ([]*domain.ApiKey, error) {
	return s.keys.List(ctx)
}

// Delete removes a key and, through the schema cascade, its tasks and usage
// entries. A key cannot delete itself, and the last key holding create_key
// is protected so key management can never be locked out.
func (s *KeyService) Delete(ctx context.Context, actor *domain.ApiKey, name string) error {
	if actor != nil && actor.Name == name {
		return ErrSelfDeletion
	}

	target, err := s.keys.GetByName(ctx, name)
	if err != nil {
		return err
	}

	if target.HasPermission(domain.PermCreateKey) {
		all, err := s.keys.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to check remaining key managers: %w", err)
		}
		managers := 0
		for _, k := range all {
			if k.Name != name && k.Active && k.HasPermission(domain.PermCreateKey) {
				managers++
			}
		}
		if managers == 0 {
			return ErrLastKeyManager
		}
	}

	if err := s.keys.Delete(ctx, name); err != nil {
		return err
	}
	s.logger.Info("api key deleted", slog.String("key_name", name))
	return nil
}

// Authenticate resolves a secret to its key, rejects inactive keys, and
// stamps lastUsedAt best-effort.
func (s *KeyService) Authenticate(ctx context.Context, secret string) (*domain.ApiKey, error) {
	if secret == "" {
		return nil, ErrInvalidSecret
	}

	key, err := s.keys.GetBySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, store.ErrApiKeyNotFound) {
			return nil, ErrInvalidSecret
		}
		return nil, err
	}
	if !key.Active {
		return nil, fmt.Errorf("%w: %q", ErrKeyInactive, key.Name)
	}

	if err := s.keys.Touch(ctx, key.Name, s.now()); err != nil {
		// Touch is advisory, a failed stamp never blocks the request.
		s.logger.Debug("failed to touch api key",
			slog.String("key_name", key.Name),
			slog.String("error", err.Error()))
	}
	return key, nil
}

// EnsureAdminKey guarantees an administrative key exists. On first run it
// creates one with every permission and no quota, using the configured
// secret or a random one; an existing key of that name is never overwritten.
// The generated secret is returned exactly once, on creation.
func (s *KeyService) EnsureAdminKey(ctx context.Context, name, secret string) (*domain.ApiKey, bool, error) {
	if name == "" {
		name = "admin"
	}

	existing, err := s.keys.GetByName(ctx, name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrApiKeyNotFound) {
		return nil, false, err
	}

	if secret == "" {
		secret, err = GenerateSecret()
		if err != nil {
			return nil, false, err
		}
	}

	key, err := domain.NewApiKey(name, secret, domain.AllPermissions(), 0)
	if err != nil {
		return nil, false, err
	}
	if err := s.keys.Create(ctx, key); err != nil {
		if errors.Is(err, store.ErrKeyNameExists) {
			// Lost a race with a concurrent bootstrap; the winner's key is
			// authoritative.
			existing, getErr := s.keys.GetByName(ctx, name)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	s.logger.Info("bootstrap admin key created", slog.String("key_name", name))
	return key, true, nil
}
