package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins is used when no origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Server-Binary", "cmd/server")
			next.ServeHTTP(w, req)
		})
	})

	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	r.Route("/api/staging", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)
		r.Post("/uploads", h.HandleUpload)
		r.Get("/counts", h.HandleCounts)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.HandleListJobs)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", h.HandleGetJob)
				r.Post("/batch", h.HandleJobBatch)
				r.Post("/batch/combined", h.HandleCombinedBatch)
				r.Get("/quarantine.csv", h.HandleQuarantineCSV)
				r.Get("/quarantine.xlsx", h.HandleQuarantineXLSX)
			})
		})

		r.Post("/orphans/batch", h.HandleOrphanBatch)
		r.Post("/other/batch", h.HandleOtherBatch)
	})

	return r
}
