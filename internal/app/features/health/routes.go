// internal/app/features/health/routes.go
package health

import "github.com/go-chi/chi/v5"

// Routes returns a subrouter that serves the health endpoint.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Serve) // this will be mounted under /health
	return r
}

// IndexRoutes returns a subrouter that serves the index report.
func IndexRoutes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ServeIndexes) // mounted under /indexes
	return r
}
