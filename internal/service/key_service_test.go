package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/store"
)

func TestGenerateSecret(t *testing.T) {
	first, err := GenerateSecret()
	require.NoError(t, err)
	second, err := GenerateSecret()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.GreaterOrEqual(t, len(first), 40)
}

func TestKeyServiceCreate(t *testing.T) {
	keys := newMemKeyStore()
	svc := NewKeyService(keys, 5<<30, nil)

	key, err := svc.Create(context.Background(), "alpha", []string{"get_audio"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "alpha", key.Name)
	assert.NotEmpty(t, key.Secret)
	assert.Equal(t, int64(5<<30), key.MemoryQuotaBytes, "default quota applies")
	assert.True(t, key.Active)

	unlimited := int64(0)
	key2, err := svc.Create(context.Background(), "beta", []string{"get_info"}, &unlimited)
	require.NoError(t, err)
	assert.False(t, key2.QuotaLimited())
}

func TestKeyServiceCreateRejectsUnknownPermission(t *testing.T) {
	svc := NewKeyService(newMemKeyStore(), 0, nil)

	_, err := svc.Create(context.Background(), "alpha", []string{"launch_missiles"}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPermission)
}

func TestKeyServiceCreateDuplicateName(t *testing.T) {
	svc := NewKeyService(newMemKeyStore(), 0, nil)

	_, err := svc.Create(context.Background(), "alpha", []string{"get_audio"}, nil)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "alpha", []string{"get_audio"}, nil)
	assert.ErrorIs(t, err, store.ErrKeyNameExists)
}

func TestKeyServiceDeleteProtections(t *testing.T) {
	keys := newMemKeyStore()
	svc := NewKeyService(keys, 0, nil)

	admin, _, err := svc.EnsureAdminKey(context.Background(), "admin", "")
	require.NoError(t, err)

	// Self-deletion is refused.
	assert.ErrorIs(t, svc.Delete(context.Background(), admin, "admin"), ErrSelfDeletion)

	// Deleting the only create_key holder is refused even by someone else.
	worker, err := svc.Create(context.Background(), "worker", []string{"get_audio"}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Delete(context.Background(), worker, "admin"), ErrLastKeyManager)

	// With a second manager around the first may go.
	_, err = svc.Create(context.Background(), "admin2", domain.AllPermissions(), nil)
	require.NoError(t, err)
	assert.NoError(t, svc.Delete(context.Background(), worker, "admin"))
}

func TestKeyServiceDeleteMissing(t *testing.T) {
	svc := NewKeyService(newMemKeyStore(), 0, nil)
	err := svc.Delete(context.Background(), nil, "ghost")
	assert.ErrorIs(t, err, store.ErrApiKeyNotFound)
}

func TestKeyServiceDeletePlainKey(t *testing.T) {
	svc := NewKeyService(newMemKeyStore(), 0, nil)

	_, err := svc.Create(context.Background(), "worker", []string{"get_audio"}, nil)
	require.NoError(t, err)

	assert.NoError(t, svc.Delete(context.Background(), nil, "worker"))
}

func TestKeyServiceAuthenticate(t *testing.T) {
	keys := newMemKeyStore()
	svc := NewKeyService(keys, 0, nil)

	created, err := svc.Create(context.Background(), "alpha", []string{"get_audio"}, nil)
	require.NoError(t, err)

	key, err := svc.Authenticate(context.Background(), created.Secret)
	require.NoError(t, err)
	assert.Equal(t, "alpha", key.Name)
	assert.Contains(t, keys.touched, "alpha", "authentication stamps lastUsedAt")

	_, err = svc.Authenticate(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrInvalidSecret)

	_, err = svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidSecret)
}

func TestKeyServiceAuthenticateInactive(t *testing.T) {
	keys := newMemKeyStore()
	svc := NewKeyService(keys, 0, nil)

	created, err := svc.Create(context.Background(), "alpha", []string{"get_audio"}, nil)
	require.NoError(t, err)
	created.Active = false

	_, err = svc.Authenticate(context.Background(), created.Secret)
	assert.ErrorIs(t, err, ErrKeyInactive)
}

func TestEnsureAdminKeyBootstrap(t *testing.T) {
	keys := newMemKeyStore()
	svc := NewKeyService(keys, 5<<30, nil)

	key, created, err := svc.EnsureAdminKey(context.Background(), "admin", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, key.Secret)
	assert.False(t, key.QuotaLimited(), "admin key is unlimited")
	for _, perm := range domain.AllPermissions() {
		assert.True(t, key.HasPermission(perm), perm)
	}

	// A second run never overwrites.
	again, created, err := svc.EnsureAdminKey(context.Background(), "admin", "different-secret")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, key.Secret, again.Secret)
}

func TestEnsureAdminKeyConfiguredSecret(t *testing.T) {
	svc := NewKeyService(newMemKeyStore(), 0, nil)

	key, created, err := svc.EnsureAdminKey(context.Background(), "admin", "pinned-secret")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "pinned-secret", key.Secret)
}
