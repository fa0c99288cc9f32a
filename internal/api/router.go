package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mediafetch/fetch-api/internal/api/middleware"
	"github.com/mediafetch/fetch-api/internal/api/shared"
	"github.com/mediafetch/fetch-api/internal/domain"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Tasks *TaskHandler
	Keys  *KeyHandler
	Files *FileHandler
	Auth  *middleware.Auth
}

// NewRouter builds the HTTP routing tree. File serving is public (the URL
// itself is the capability); everything under /api/v1 requires a key.
func NewRouter(h Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.Trace)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.Auth.Authenticate)

		r.Post("/tasks/{kind}", h.Tasks.Create)
		r.Get("/tasks/{id}", h.Tasks.Get)

		r.Route("/keys", func(r chi.Router) {
			r.With(middleware.RequirePermission(domain.PermCreateKey)).
				Post("/", h.Keys.Create)
			r.With(middleware.RequirePermission(domain.PermListKeys)).
				Get("/", h.Keys.List)
			r.With(middleware.RequirePermission(domain.PermGetKey)).
				Get("/{name}", h.Keys.Get)
			r.With(middleware.RequirePermission(domain.PermDeleteKey)).
				Delete("/{name}", h.Keys.Delete)
		})
	})

	r.Get("/files/{taskID}/{name}", h.Files.Serve)

	return r
}
