package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/sitemend/sitemend/internal/pipeline"
)

// NewRouter mounts all API routes on a chi router.
func NewRouter(svc *pipeline.Service, log *slog.Logger) chi.Router {
	h := NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logging(h.log))

	r.Route("/api", func(r chi.Router) {
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Post("/edits", h.SubmitEdit)
			r.Get("/edits", h.History)
			r.Post("/edits/{editID}/apply", h.ApplyEdit)
			r.Post("/edits/{editID}/revert", h.RevertEdit)
			r.Post("/reindex", h.Reindex)
		})
		r.Get("/metrics", h.Metrics)
		r.Get("/errors", h.Errors)
	})

	return r
}
