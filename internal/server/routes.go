package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Document routes
	r.Route("/document", func(r chi.Router) {
		r.Post("/open", s.openDocument)
		r.Post("/update", s.updateDocument)
	})

	// Session routes
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/init", s.initSession)
		r.Post("/command", s.submitCommand)
		r.Post("/close", s.closeSession)
		r.Post("/resize", s.resizeSession)
	})

	// Event streaming (SSE)
	r.Get("/event", s.events)

	// Health
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
