package api

import (
	"time"

	"github.com/mediafetch/fetch-api/internal/domain"
)

// CreateTaskRequest is the body of POST /api/v1/tasks/{kind}. Everything the
// executor understands rides in Params; url is required for every kind.
type CreateTaskRequest struct {
	Params domain.Payload `json:"params"`
}

// TaskResponse is the representation of a task returned to clients.
type TaskResponse struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	Result      domain.Payload `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func newTaskResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:          task.ID.String(),
		Type:        string(task.Type),
		Status:      string(task.Status),
		Result:      task.Result,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
		CompletedAt: task.CompletedAt,
	}
}

// CreateKeyRequest is the body of POST /api/v1/keys.
type CreateKeyRequest struct {
	Name             string   `json:"name"              validate:"required,min=1,max=64"`
	Permissions      []string `json:"permissions"       validate:"required,min=1"`
	MemoryQuotaBytes *int64   `json:"memory_quota_bytes,omitempty"`
}

// KeyResponse is the representation of a key returned to clients. Secret is
// only populated on creation.
type KeyResponse struct {
	Name             string     `json:"name"`
	Secret           string     `json:"secret,omitempty"`
	Permissions      []string   `json:"permissions"`
	MemoryQuotaBytes int64      `json:"memory_quota_bytes"`
	Active           bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
}

func newKeyResponse(key *domain.ApiKey, includeSecret bool) KeyResponse {
	resp := KeyResponse{
		Name:             key.Name,
		Permissions:      key.Permissions,
		MemoryQuotaBytes: key.MemoryQuotaBytes,
		Active:           key.Active,
		CreatedAt:        key.CreatedAt,
		LastUsedAt:       key.LastUsedAt,
	}
	if includeSecret {
		resp.Secret = key.Secret
	}
	return resp
}
