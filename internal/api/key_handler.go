package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mediafetch/fetch-api/internal/api/shared"
	"github.com/mediafetch/fetch-api/internal/service"
)

// KeyHandler serves key management. Routes are additionally gated by
// permission middleware; the handler assumes an authenticated caller.
type KeyHandler struct {
	keys     *service.KeyService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewKeyHandler creates a KeyHandler.
func NewKeyHandler(keys *service.KeyService, logger *slog.Logger) *KeyHandler {
	if keys == nil {
		panic("key service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyHandler{
		keys:     keys,
		validate: validator.New(),
		logger:   logger.With(slog.String("component", "key_handler")),
	}
}

// Create handles POST /api/v1/keys. The generated secret appears in this
// response and nowhere else.
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request: name and permissions are required")
		return
	}

	key, err := h.keys.Create(r.Context(), req.Name, req.Permissions, req.MemoryQuotaBytes)
	if err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, newKeyResponse(key, true))
}

// List handles GET /api/v1/keys.
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list keys", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	out := make([]KeyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, newKeyResponse(key, false))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}

// Get handles GET /api/v1/keys/{name}.
func (h *KeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, newKeyResponse(key, false))
}

// Delete handles DELETE /api/v1/keys/{name}. The key's tasks and usage go
// with it.
func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor := shared.APIKeyFromContext(r.Context())
	name := chi.URLParam(r, "name")

	if err := h.keys.Delete(r.Context(), actor, name); err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	actorName := ""
	if actor != nil {
		actorName = actor.Name
	}
	h.logger.Info("key deleted via api",
		slog.String("key_name", name),
		slog.String("actor", actorName))
	shared.RespondWithJSON(w, r, http.StatusNoContent, nil)
}
