package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mediafetch/fetch-api/internal/api/shared"
	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/service"
)

// TaskHandler serves task submission and status.
type TaskHandler struct {
	tasks  *service.TaskService
	logger *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(tasks *service.TaskService, logger *slog.Logger) *TaskHandler {
	if tasks == nil {
		panic("task service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{tasks: tasks, logger: logger.With(slog.String("component", "task_handler"))}
}

// Create handles POST /api/v1/tasks/{kind}.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	key := shared.APIKeyFromContext(r.Context())
	if key == nil {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	taskType, err := domain.ParseTaskType(chi.URLParam(r, "kind"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, GetSafeErrorMessage(err))
		return
	}

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	task, err := h.tasks.Submit(r.Context(), key, taskType, req.Params)
	if err != nil {
		h.logger.Debug("task submission rejected",
			slog.String("key_name", key.Name),
			slog.String("task_type", string(taskType)),
			slog.String("error", err.Error()))
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, newTaskResponse(task))
}

// Get handles GET /api/v1/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := shared.APIKeyFromContext(r.Context())
	if key == nil {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task id")
		return
	}

	task, err := h.tasks.GetStatus(r.Context(), key, id)
	if err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newTaskResponse(task))
}
