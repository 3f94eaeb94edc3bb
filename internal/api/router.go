package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/propdesk/propdesk/internal/api/handlers"
	"github.com/propdesk/propdesk/internal/api/middleware"
	"github.com/propdesk/propdesk/internal/config"
	"github.com/propdesk/propdesk/internal/repository"
	"github.com/propdesk/propdesk/internal/session"
	"github.com/propdesk/propdesk/internal/sessionhub"
)

func NewRouter(registry *session.Registry, hub *sessionhub.Hub, repos *repository.Repositories, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(registry, cfg.SiteURL)
	settingsHandler := handlers.NewSettingsHandler(repos.Profile)
	eventsHandler := handlers.NewEventsHandler(hub)
	pageHandler := handlers.NewPageHandler()

	// JSON API
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/signup", authHandler.Signup)
			r.Post("/reset", authHandler.Reset)
			r.Post("/logout", authHandler.Logout)
			r.Get("/session", authHandler.Session)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(registry))
			r.Get("/profile", settingsHandler.GetProfile)
			r.Put("/profile", settingsHandler.SaveProfile)
		})
	})

	// OAuth redirect flow (full-page navigations)
	r.Get("/auth/oauth/{provider}", authHandler.OAuthStart)
	r.Get("/auth/callback", authHandler.OAuthCallback)

	// Public-only views
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicOnly(registry))
		r.Get("/login", pageHandler.Login)
		r.Get("/signup", pageHandler.Signup)
		r.Get("/forgot-password", pageHandler.ForgotPassword)
	})

	// Protected views
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(registry))
		r.Get("/dashboard", pageHandler.Dashboard)
		r.Get("/listings", pageHandler.Listings)
		r.Get("/settings", pageHandler.Settings)
		r.Get("/ws/session", eventsHandler.Handle)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	})

	return r
}
