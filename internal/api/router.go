package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

// NewRouter wires the full route tree. metricsHandler may be nil to leave
// the scrape endpoint unregistered.
func NewRouter(h *Handlers, metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Ping)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", h.Ping)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/register", h.Register)
			r.Post("/logout", h.Logout)
			r.Get("/status", h.AuthStatus)
		})

		r.Route("/products", func(r chi.Router) {
			r.Post("/", h.CollectOne)
			r.Get("/", h.ListProducts)
			r.Get("/stats", h.Stats)
		})

		r.Route("/collection", func(r chi.Router) {
			r.Post("/start", h.StartCollection)
			r.Post("/pause", h.PauseCollection)
			r.Post("/resume", h.ResumeCollection)
			r.Post("/cancel", h.CancelCollection)
			r.Get("/status", h.CollectionStatus)
		})
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	return r
}

// requestID tags every request with a fresh UUID so log lines from one call
// can be correlated.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
