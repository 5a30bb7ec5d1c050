package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	r.Route("/session/{sessionID}", func(r chi.Router) {
		// Permission queue (resolved to the effective session)
		r.Get("/permissions", s.listPermissions)
		r.Post("/permissions/{permissionID}", s.respondPermission)
		r.Get("/approvals", s.listApprovals)

		// Sub-agent hierarchy
		r.Get("/children", s.listChildren)
		r.Post("/children", s.registerChild)
		r.Delete("/children/{childID}", s.unregisterChild)

		// Background tasks
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/approvals", s.listTaskApprovals)
		r.Post("/tasks/{taskID}/complete", s.completeTask)
		r.Post("/tasks/{taskID}/fail", s.failTask)

		// Audit journal
		r.Get("/journal", s.readJournal)
	})

	// Sandbox pool
	r.Route("/sandbox", func(r chi.Router) {
		r.Get("/", s.sandboxStatus)
		r.Delete("/{tool}", s.stopSandbox)
	})

	// Tool catalog
	r.Route("/tools", func(r chi.Router) {
		r.Get("/", s.listTools)
		r.Post("/{tool}/call", s.callTool)
	})

	// Event streaming (SSE)
	r.Get("/event", s.events)
}
