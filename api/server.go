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
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. Authorize:  Pluggable gate on mutating routes

ROUTE GROUPS:
  /api/contracts/*      Contract lifecycle
  /api/services/*       Service cycles
  /api/repairs/*        Repair cycles
  /api/work/*           Cross-contract open-work views
  /healthz              Liveness

AUTHORIZATION:
  The engine itself performs no permission checks; the gate lives here.
  Authorizer is a hook called before every mutating handler. The default
  allows everything; deployments plug their own check in.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Authorizer decides whether a request may perform a mutating operation.
// A non-nil error rejects the request with 403.
type Authorizer func(r *http.Request) error

// AllowAll is the default Authorizer.
func AllowAll(*http.Request) error { return nil }

// authorize wraps mutating routes with the Authorizer hook.
func authorize(auth Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth(r); err != nil {
				writeError(w, http.StatusForbidden, "Not authorized", err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth Authorizer) *chi.Mux {
	if auth == nil {
		auth = AllowAll
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Contract routes
		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.With(authorize(auth)).Post("/", h.CreateContract)
			r.Get("/{id}", h.GetContract)
			r.With(authorize(auth)).Post("/{id}/extend", h.ExtendContract)
			r.With(authorize(auth)).Post("/{id}/close", h.CloseContract)
			r.With(authorize(auth)).Put("/{id}/assets", h.UpdateAssets)
			r.Get("/{id}/available-assets", h.AvailableAssets)
			r.Get("/{id}/history", h.History)
		})

		// Service cycle routes
		r.Route("/services", func(r chi.Router) {
			r.With(authorize(auth)).Post("/", h.InitiateService)
			r.With(authorize(auth)).Post("/{sn}/close", h.CloseService)
		})

		// Repair cycle routes
		r.Route("/repairs", func(r chi.Router) {
			r.With(authorize(auth)).Post("/", h.InitiateRepair)
			r.With(authorize(auth)).Post("/{sn}/close", h.CloseRepair)
		})

		// Cross-contract views
		r.Route("/work", func(r chi.Router) {
			r.Get("/open", h.ListOpenWork)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
