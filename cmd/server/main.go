package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/propdesk/propdesk/internal/api"
	"github.com/propdesk/propdesk/internal/config"
	"github.com/propdesk/propdesk/internal/identity"
	"github.com/propdesk/propdesk/internal/repository/postgres"
	"github.com/propdesk/propdesk/internal/session"
	"github.com/propdesk/propdesk/internal/sessionhub"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize database
	db, err := postgres.NewConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	// Initialize repositories
	repos := postgres.NewRepositories(db)

	// Identity provider client
	provider := identity.NewClient(cfg.IdentityURL, cfg.IdentityAnonKey)

	// Session registry
	secureCookies := strings.HasPrefix(cfg.SiteURL, "https://")
	registry := session.NewRegistry(provider, repos.Credential, session.DefaultConfig(), cfg.SessionIdleTimeout, secureCookies)
	go registry.Run()

	// Session-event hub
	hub := sessionhub.NewHub()
	go hub.Run()

	// Initialize router
	router := api.NewRouter(registry, hub, repos, cfg)

	// Create server
	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	hub.Stop()
	registry.Stop()

	log.Println("Server stopped")
}
