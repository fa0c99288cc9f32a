package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mediafetch/fetch-api/internal/api/shared"
	"github.com/mediafetch/fetch-api/internal/artifact"
)

// FileHandler streams stored artifacts referenced by task results.
type FileHandler struct {
	artifacts *artifact.Store
	logger    *slog.Logger
}

// NewFileHandler creates a FileHandler.
func NewFileHandler(artifacts *artifact.Store, logger *slog.Logger) *FileHandler {
	if artifacts == nil {
		panic("artifact store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileHandler{artifacts: artifacts, logger: logger.With(slog.String("component", "file_handler"))}
}

// Serve handles GET /files/{taskID}/{name}.
func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task id")
		return
	}

	name := chi.URLParam(r, "name")
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid file name")
		return
	}

	reader, size, err := h.artifacts.Open(r.Context(), taskID, name)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusNotFound, "File not found")
		return
	}
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	// A backend that does not report object sizes yields zero, which would
	// advertise an empty body. Let chunked transfer handle it instead.
	if size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Debug("artifact stream aborted",
			slog.String("task_id", taskID.String()),
			slog.String("error", err.Error()))
	}
}
