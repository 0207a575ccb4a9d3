/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend
  5. Identity:   Principal from X-User-* headers (API routes only)

ROUTE GROUPS:
  /api/health          Liveness, no identity required
  /api/employees/*     Roster
  /api/projections/*   Attendance, KPI and payroll grids
  /api/payroll/*       Payroll lock state and finalize
  /api/leave/*         Leave requests
  /api/import/*        Bulk spreadsheet import

SECURITY NOTE:
  Authentication happens upstream. This service trusts the identity
  headers and only enforces roles and scopes.

SEE ALSO:
  - handlers.go: Handler implementations
  - identity.go: Principal middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultOrigins are allowed when no CORS origins are configured.
var DefaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderUserRole, HeaderUserScope},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(Identity)

			// Employee routes
			r.Route("/employees", func(r chi.Router) {
				r.Get("/", h.ListEmployees)
				r.Post("/", h.CreateEmployee)
				r.Get("/{id}", h.GetEmployee)
				r.Put("/{id}", h.UpdateEmployee)
			})

			// Projection routes
			r.Route("/projections", func(r chi.Router) {
				r.Get("/{kind}", h.GetProjection)
				r.Put("/{kind}", h.SaveProjection)
			})

			// Payroll routes
			r.Route("/payroll", func(r chi.Router) {
				r.Get("/status", h.GetPayrollStatus)
				r.Post("/finalize", h.FinalizePayroll)
			})

			// Leave routes
			r.Route("/leave/requests", func(r chi.Router) {
				r.Get("/", h.ListLeave)
				r.Post("/", h.SubmitLeave)
				r.Get("/{id}", h.GetLeave)
				r.Post("/{id}/approve", h.ApproveLeave)
				r.Post("/{id}/reject", h.RejectLeave)
			})

			// Import routes
			r.Post("/import/{target}", h.Import)
		})
	})

	return r
}
