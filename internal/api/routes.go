package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouteConfig carries the secrets and browser settings for SetupRoutes.
type RouteConfig struct {
	AllowedOrigins []string
	ConsentCookie  string
	AdminToken     string
	CronSecret     string
}

// SetupRoutes builds the router.
func SetupRoutes(h *Handlers, health *HealthChecker, cfg RouteConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ConsentHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(consentMiddleware(cfg.ConsentCookie))

	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/applications/{role}", h.SubmitApplication)

		r.Route("/newsletter", func(r chi.Router) {
			r.Post("/subscribe", h.Subscribe)
			r.Get("/unsubscribe", h.Unsubscribe)
		})

		r.Post("/track", h.Track)

		r.With(requireBearer(cfg.CronSecret)).Post("/email-queue/process", h.ProcessQueue)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireBearer(cfg.AdminToken))
			r.Get("/email-queue/stats", h.QueueStats)
			r.Get("/email-queue/failed", h.FailedEmails)
			r.Get("/email-queue/{id}", h.GetQueuedEmail)
			r.Get("/applications/{id}", h.GetApplication)
			r.Post("/campaigns", h.QueueCampaign)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	})
	return r
}
