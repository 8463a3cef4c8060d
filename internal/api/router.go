package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi router with all middleware and routes.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Probes are unauthenticated so orchestrators can poll them.
	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)
	r.Get("/startupz", s.handleStartup)

	r.Get("/ws/entities", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.handleListEntities)
			r.Post("/", s.handleCreateEntity)
			r.Get("/stats", s.handleEntityStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetEntity)
				r.Patch("/", s.handleUpdateEntity)
				r.Delete("/", s.handleDeleteEntity)
				r.Post("/control", s.handleControl)
			})
		})

		r.Route("/operations", func(r chi.Router) {
			r.Get("/", s.handleListOperations)
			r.Get("/{id}", s.handleGetOperation)
		})

		r.Route("/v2/entities", func(r chi.Router) {
			r.Post("/bulk-control", s.handleBulkControl)
		})
	})

	return r
}
