package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mediafetch/fetch-api/internal/admission"
	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/store"
)

// TaskService handles task submission and status lookups. Memory-quota
// admission happens later, at dispatch time, when an estimate exists; only
// the permission and rate-limit gates run at submission.
type TaskService struct {
	tasks  store.TaskStore
	gate   *admission.Controller
	logger *slog.Logger
}

// NewTaskService creates a TaskService.
func NewTaskService(tasks store.TaskStore, gate *admission.Controller, logger *slog.Logger) *TaskService {
	if tasks == nil || gate == nil {
		panic("task service dependencies cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{
		tasks:  tasks,
		gate:   gate,
		logger: logger.With(slog.String("component", "task_service")),
	}
}

// Submit validates and enqueues a new task for the given key. The returned
// task is WAITING; the scheduler picks it up from there.
func (s *TaskService) Submit(
	ctx context.Context,
	key *domain.ApiKey,
	taskType domain.TaskType,
	params domain.Payload,
) (*domain.Task, error) {
	if !key.HasPermission(taskType.Permission()) {
		return nil, fmt.Errorf("%w: key %q lacks %q", ErrPermissionDenied, key.Name, taskType.Permission())
	}

	if err := domain.ValidateParams(taskType, params); err != nil {
		return nil, err
	}

	if err := s.gate.CheckRate(ctx, key.Name); err != nil {
		return nil, err
	}

	task, err := domain.NewTask(taskType, params, key.Name)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info("task submitted",
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", string(taskType)),
		slog.String("key_name", key.Name))
	return task, nil
}

// GetStatus returns one task. Keys only see their own tasks unless they hold
// the get_keys administrative permission.
func (s *TaskService) GetStatus(ctx context.Context, key *domain.ApiKey, id uuid.UUID) (*domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.OwnerKeyName != key.Name && !key.HasPermission(domain.PermListKeys) {
		return nil, fmt.Errorf("%w: task %s", ErrNotOwned, id)
	}
	return task, nil
}
