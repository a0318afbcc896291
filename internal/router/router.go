// Package router sets up all HTTP routes and middleware chains for the
// ProcGrid catalog API. It organizes routes into the category API and the
// admin maintenance group with appropriate middleware stacks.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"procgrid/internal/handlers"
	"procgrid/internal/middleware"
)

// Options carries the router's collaborators. Limiter may be nil to
// disable rate limiting.
type Options struct {
	ActorHeader string
	Limiter     middleware.Limiter
	Categories  *handlers.Categories
	Admin       *handlers.Admin
}

// New creates and returns the configured Chi router with all middleware
// and route groups wired up.
func New(opts Options) chi.Router {
	r := chi.NewRouter()

	// Global middleware, applied to every request.
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.LoadActor(opts.ActorHeader))
	r.Use(middleware.Logger)

	// Health check: no actor, no rate limit.
	r.Get("/health", healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(middleware.RateLimit(opts.Limiter))
		}
		r.Use(middleware.RequireActor)

		c := opts.Categories
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", c.List)
			r.Post("/", c.Create)

			// Fixed segments are matched before {id}.
			r.Get("/search", c.Search)
			r.Get("/roots", c.Roots)
			r.Get("/leaves", c.Leaves)
			r.Get("/popular", c.Popular)
			r.Get("/levels/{level}", c.ByLevel)
			r.Get("/slug/{slug}", c.BySlug)
			r.Get("/path", c.ByPath)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", c.Get)
				r.Patch("/", c.Update)
				r.Delete("/", c.Delete)
				r.Post("/move", c.Move)
				r.Post("/activate", c.Activate)
				r.Post("/deactivate", c.Deactivate)
				r.Get("/children", c.Children)
				r.Get("/hierarchy", c.Hierarchy)
				r.Get("/breadcrumb", c.Breadcrumb)
				r.Get("/stats", c.Stats)
			})
		})

		// Admin maintenance routes.
		r.Route("/admin", func(r chi.Router) {
			r.Post("/categories/rebuild", opts.Admin.Rebuild)
			r.Post("/categories/repair", opts.Admin.Repair)
			r.Get("/cache-log", opts.Admin.CacheLog)
		})
	})

	return r
}

// healthHandler returns a simple JSON health check response.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
