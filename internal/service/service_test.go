package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/store"
)

// In-memory fakes shared by the service tests.

type memKeyStore struct {
	mu      sync.Mutex
	keys    map[string]*domain.ApiKey
	touched map[string]time.Time
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{
		keys:    make(map[string]*domain.ApiKey),
		touched: make(map[string]time.Time),
	}
}

func (m *memKeyStore) Create(_ context.Context, key *domain.ApiKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key.Name]; ok {
		return store.ErrKeyNameExists
	}
	m.keys[key.Name] = key
	return nil
}

func (m *memKeyStore) GetByName(_ context.Context, name string) (*domain.ApiKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[name]
	if !ok {
		return nil, store.ErrApiKeyNotFound
	}
	return key, nil
}

func (m *memKeyStore) GetBySecret(_ context.Context, secret string) (*domain.ApiKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range m.keys {
		if key.Secret == secret {
			return key, nil
		}
	}
	return nil, store.ErrApiKeyNotFound
}

func (m *memKeyStore) List(_ context.Context) ([]*domain.ApiKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ApiKey
	for _, key := range m.keys {
		out = append(out, key)
	}
	return out, nil
}

func (m *memKeyStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[name]; !ok {
		return store.ErrApiKeyNotFound
	}
	delete(m.keys, name)
	return nil
}

func (m *memKeyStore) Touch(_ context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[name]; !ok {
		return store.ErrApiKeyNotFound
	}
	m.touched[name] = at
	return nil
}

func (m *memKeyStore) WithTx(_ *sql.Tx) store.ApiKeyStore { return m }

type memTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (m *memTaskStore) Create(_ context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
	return nil
}

func (m *memTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return task, nil
}

func (m *memTaskStore) UpdateStatus(_ context.Context, _ uuid.UUID, _ domain.TaskStatus, _ domain.Payload) error {
	return nil
}

func (m *memTaskStore) ClaimWaiting(_ context.Context, _ int) ([]*domain.Task, error) {
	return nil, nil
}

func (m *memTaskStore) ListByStatus(_ context.Context, _ domain.TaskStatus, _ int) ([]*domain.Task, error) {
	return nil, nil
}

func (m *memTaskStore) ListTerminalBefore(_ context.Context, _ time.Time) ([]*domain.Task, error) {
	return nil, nil
}

func (m *memTaskStore) CountByOwnerSince(_ context.Context, owner string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, task := range m.tasks {
		if task.OwnerKeyName == owner && !task.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memTaskStore) ListIDs(_ context.Context) ([]uuid.UUID, error) { return nil, nil }

func (m *memTaskStore) Delete(_ context.Context, _ uuid.UUID) error { return nil }

func (m *memTaskStore) WithTx(_ *sql.Tx) store.TaskStore { return m }

type memUsageStore struct{}

func (memUsageStore) Append(_ context.Context, _ *domain.UsageEntry) error { return nil }
func (memUsageStore) SumSince(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
func (memUsageStore) SumForKeySince(_ context.Context, _ string, _ time.Time) (int64, error) {
	return 0, nil
}
func (memUsageStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }
func (memUsageStore) WithTx(_ *sql.Tx) store.UsageStore                          { return memUsageStore{} }
