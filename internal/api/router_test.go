package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"

	"github.com/mediafetch/fetch-api/internal/admission"
	"github.com/mediafetch/fetch-api/internal/api"
	"github.com/mediafetch/fetch-api/internal/api/middleware"
	"github.com/mediafetch/fetch-api/internal/artifact"
	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/quota"
	"github.com/mediafetch/fetch-api/internal/service"
	"github.com/mediafetch/fetch-api/internal/store"
)

type memKeyStore struct {
	mu   sync.Mutex
	keys map[string]*domain.ApiKey
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{keys: make(map[string]*domain.ApiKey)}
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

func (m *memKeyStore) Touch(_ context.Context, _ string, _ time.Time) error { return nil }

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

func (memUsageStore) Append(_ context.Context, _ *domain.UsageEntry) error   { return nil }
func (memUsageStore) SumSince(_ context.Context, _ time.Time) (int64, error) { return 0, nil }
func (memUsageStore) SumForKeySince(_ context.Context, _ string, _ time.Time) (int64, error) {
	return 0, nil
}
func (memUsageStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }
func (memUsageStore) WithTx(_ *sql.Tx) store.UsageStore                          { return memUsageStore{} }

type testEnv struct {
	router    http.Handler
	keys      *service.KeyService
	artifacts *artifact.Store
	admin     *domain.ApiKey
	worker    *domain.ApiKey
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()

	keyStore := newMemKeyStore()
	taskStore := newMemTaskStore()
	ledger := quota.NewLedger(memUsageStore{}, 10*time.Minute, nil)
	gate := admission.NewController(ledger, taskStore, 1<<40, 10*time.Minute, rateLimit, nil)

	keySvc := service.NewKeyService(keyStore, 0, nil)
	taskSvc := service.NewTaskService(taskStore, gate, nil)
	artifacts := artifact.NewStore(afs.New(),
		fmt.Sprintf("mem://localhost/api-%s", uuid.New().String()), "/files", nil)

	admin, _, err := keySvc.EnsureAdminKey(context.Background(), "admin", "admin-secret")
	require.NoError(t, err)
	worker, err := keySvc.Create(context.Background(), "worker", []string{"get_audio"}, nil)
	require.NoError(t, err)

	router := api.NewRouter(api.Handlers{
		Tasks: api.NewTaskHandler(taskSvc, nil),
		Keys:  api.NewKeyHandler(keySvc, nil),
		Files: api.NewFileHandler(artifacts, nil),
		Auth:  middleware.NewAuth(keySvc, nil),
	})

	return &testEnv{router: router, keys: keySvc, artifacts: artifacts, admin: admin, worker: worker}
}

func (e *testEnv) do(t *testing.T, method, path, secret string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if secret != "" {
		req.Header.Set("X-API-Key", secret)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsPublic(t *testing.T) {
	env := newTestEnv(t, 60)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, 60)

	rec := env.do(t, http.MethodGet, "/api/v1/keys/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/keys/", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitTask(t *testing.T) {
	env := newTestEnv(t, 60)

	rec := env.do(t, http.MethodPost, "/api/v1/tasks/get_audio", env.worker.Secret,
		api.CreateTaskRequest{Params: domain.Payload{"url": "https://example.com/v"}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp api.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "waiting", resp.Status)
	assert.Equal(t, "get_audio", resp.Type)
	assert.NotEmpty(t, resp.ID)
}

func TestSubmitTaskUnknownKind(t *testing.T) {
	env := newTestEnv(t, 60)
	rec := env.do(t, http.MethodPost, "/api/v1/tasks/get_everything", env.worker.Secret,
		api.CreateTaskRequest{Params: domain.Payload{"url": "https://example.com/v"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTaskPermissionDenied(t *testing.T) {
	env := newTestEnv(t, 60)
	rec := env.do(t, http.MethodPost, "/api/v1/tasks/get_video", env.worker.Secret,
		api.CreateTaskRequest{Params: domain.Payload{"url": "https://example.com/v"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitTaskMissingURL(t *testing.T) {
	env := newTestEnv(t, 60)
	rec := env.do(t, http.MethodPost, "/api/v1/tasks/get_audio", env.worker.Secret,
		api.CreateTaskRequest{Params: domain.Payload{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTaskRateLimited(t *testing.T) {
	env := newTestEnv(t, 2)

	body := api.CreateTaskRequest{Params: domain.Payload{"url": "https://example.com/v"}}
	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/tasks/get_audio", env.worker.Secret, body)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/tasks/get_audio", env.worker.Secret, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGetTaskStatus(t *testing.T) {
	env := newTestEnv(t, 60)

	rec := env.do(t, http.MethodPost, "/api/v1/tasks/get_audio", env.worker.Secret,
		api.CreateTaskRequest{Params: domain.Payload{"url": "https://example.com/v"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created api.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = env.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID, env.worker.Secret, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The admin key sees other keys' tasks, an unrelated key does not.
	rec = env.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID, "admin-secret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/tasks/"+uuid.New().String(), env.worker.Secret, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/tasks/not-a-uuid", env.worker.Secret, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeyManagementPermissions(t *testing.T) {
	env := newTestEnv(t, 60)

	body := api.CreateKeyRequest{Name: "newkey", Permissions: []string{"get_audio"}}

	rec := env.do(t, http.MethodPost, "/api/v1/keys/", env.worker.Secret, body)
	assert.Equal(t, http.StatusForbidden, rec.Code, "worker lacks create_key")

	rec = env.do(t, http.MethodPost, "/api/v1/keys/", "admin-secret", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created api.KeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Secret, "secret is returned once, on creation")

	// Duplicate names conflict.
	rec = env.do(t, http.MethodPost, "/api/v1/keys/", "admin-secret", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Listing never exposes secrets.
	rec = env.do(t, http.MethodGet, "/api/v1/keys/", "admin-secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created.Secret)
	assert.NotContains(t, rec.Body.String(), "admin-secret")
}

func TestKeyDeletionProtections(t *testing.T) {
	env := newTestEnv(t, 60)

	rec := env.do(t, http.MethodDelete, "/api/v1/keys/admin", "admin-secret", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "self-deletion refused")

	rec = env.do(t, http.MethodDelete, "/api/v1/keys/worker", "admin-secret", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/keys/ghost", "admin-secret", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeArtifact(t *testing.T) {
	env := newTestEnv(t, 60)
	taskID := uuid.New()
	_, err := env.artifacts.Put(context.Background(), taskID, "audio.mp3",
		strings.NewReader("mp3-bytes"))
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/files/%s/audio.mp3", taskID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mp3-bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "audio.mp3")

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/files/%s/missing.mp3", taskID), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/files/not-a-uuid/audio.mp3", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
