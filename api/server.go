/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for a frontend

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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/books", func(r chi.Router) {
			r.Get("/", h.ListBooks)
			r.Post("/", h.CreateBook)
			r.Get("/{id}", h.GetBook)
			r.Get("/{id}/queue", h.GetReservationQueue)
		})

		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Get("/{id}/history", h.GetHistory)
		})

		r.Route("/loans", func(r chi.Router) {
			r.Post("/", h.Borrow)
			r.Get("/overdue", h.ListOverdue)
			r.Post("/{id}/return", h.Return)
			r.Post("/{id}/renew", h.Renew)
			r.Post("/{id}/lost", h.MarkLost)
			r.Post("/{id}/damaged", h.MarkDamaged)
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.Reserve)
			r.Post("/{id}/cancel", h.CancelReservation)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.RunSweeps)
			r.Post("/seed", h.LoadSeed)
		})
	})

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"service":"circulation-engine","api":"/api"}`))
	})

	return r
}
