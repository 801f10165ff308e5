/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:       Request logging
  2. Recoverer:    Panic recovery (500 instead of crash)
  3. RequestID:    Unique ID per request for tracing
  4. CORS:         Cross-origin requests for frontend
  5. WithIdentity: Caller identity from the SSO proxy header

ROUTE GROUPS:
  /api/rides/*         Ride submission, month overview, deletion
  /api/status          Submission eligibility banner
  /api/trajectories/*  Commute leg management
  /api/config/*        Country policy (HR role)
  /api/hr/*            Employee admin and monthly export (HR role)

SEE ALSO:
  - handlers.go: Handler implementations
  - identity.go: Identity and role middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerEmployeeID},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(WithIdentity)

		// Ride routes
		r.Route("/rides", func(r chi.Router) {
			r.Post("/", h.SubmitRide)
			r.Get("/month/{yearMonth}", h.GetMonth)
			r.Delete("/{id}", h.DeleteRide)
		})
		r.Get("/status", h.GetStatus)

		// Trajectory routes
		r.Route("/trajectories", func(r chi.Router) {
			r.Get("/", h.ListTrajectories)
			r.Post("/", h.CreateTrajectory)
			r.Delete("/{id}", h.DeleteTrajectory)
		})

		// Config routes (HR role)
		r.Route("/config", func(r chi.Router) {
			r.Use(h.RequireHR)
			r.Get("/{land}", h.GetPolicy)
			r.Patch("/{land}", h.UpdatePolicy)
		})

		// HR routes
		r.Route("/hr", func(r chi.Router) {
			r.Use(h.RequireHR)
			r.Get("/employees", h.ListEmployees)
			r.Patch("/employees/{id}/tariff", h.SetCustomTariff)
			r.Post("/export/{yearMonth}", h.RunExport)
		})
	})

	return r
}
