package httpapi

import (
	"net/http"

	"sunrunner/internal/http/handlers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the ops router. The worker exposes no task-facing API;
// this surface exists for liveness probes and operator curiosity only.
func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/stats", app.Stats)

	return r
}
