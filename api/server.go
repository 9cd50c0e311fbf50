/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Heartbeat:  GET /healthz for load balancers
  6. CORS:       Cross-origin requests from payroll front ends

ROUTE GROUPS:
  /api/schedules/*   Rate schedule versions
  /api/reliefs/*     Relief versions
  /api/resolve       Effective-date resolution
  /api/compute/*     Single, preview and batch calculation
  /api/audit/*       Audit trail
  /api/catalog       Catalog import/export
  /api/coverage      Formula coverage over a date range
  /api/scenarios/*   Demo scenarios

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. An empty
// allowedOrigins allows any origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		// Schedule routes
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", h.ListSchedules)
			r.Post("/", h.CreateSchedule)
			r.Post("/supersede", h.SupersedeSchedule)
			r.Get("/{id}", h.GetSchedule)
			r.Post("/{id}/close", h.CloseSchedule)
		})

		// Relief routes
		r.Route("/reliefs", func(r chi.Router) {
			r.Get("/", h.ListReliefs)
			r.Post("/", h.CreateRelief)
			r.Post("/supersede", h.SupersedeRelief)
			r.Get("/{id}", h.GetRelief)
			r.Post("/{id}/repeal", h.RepealRelief)
		})

		r.Get("/resolve", h.Resolve)

		// Calculation routes
		r.Route("/compute", func(r chi.Router) {
			r.Post("/", h.Compute)
			r.Post("/preview", h.Preview)
			r.Post("/batch", h.ComputeBatch)
		})

		// Audit routes
		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.QueryAudit)
			r.Post("/reproduce", h.ReproduceAudit)
		})

		// Catalog routes
		r.Get("/catalog", h.ExportCatalog)
		r.Post("/catalog", h.ImportCatalog)
		r.Get("/coverage", h.Coverage)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
