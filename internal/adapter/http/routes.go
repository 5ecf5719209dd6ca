package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		// Applications
		r.Post("/applications", h.SubmitApplication)
		r.Get("/applications/{id}", h.GetApplication)
		r.Get("/applications/{id}/state", h.GetApplicationState)
		r.Post("/applications/{id}/cancel", h.CancelApplication)
		r.Get("/applications/{id}/trace", h.GetApplicationTrace)

		// Models
		r.Get("/models", h.ListModels)
		r.Get("/models/{name}", h.GetModel)
		r.Post("/models/{name}/invalidate", h.InvalidateModel)
	})
}
