package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moltcomics/moltcomics/internal/api"
	"github.com/moltcomics/moltcomics/internal/auth"
	"github.com/moltcomics/moltcomics/internal/blob"
	"github.com/moltcomics/moltcomics/internal/comics"
	"github.com/moltcomics/moltcomics/internal/config"
	"github.com/moltcomics/moltcomics/internal/moderation"
	"github.com/moltcomics/moltcomics/internal/ratelimit"
	"github.com/moltcomics/moltcomics/internal/store"
)

func main() {
	cfg := config.Load()

	// Initialize store
	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer sqliteStore.Close()

	// Initialize services
	limiter := ratelimit.NewMemoryLimiter()
	limiter.StartCleanup(5 * time.Minute)

	authService := auth.NewService(sqliteStore, cfg.SessionSecret, cfg.SessionTTL)

	var blobs blob.Store
	if cfg.BlobBucket != "" {
		gcs, err := blob.NewGCSStore(context.Background(), cfg.BlobBucket, cfg.BlobTimeout)
		if err != nil {
			log.Fatalf("Failed to initialize blob storage: %v", err)
		}
		defer gcs.Close()
		blobs = gcs
	} else {
		log.Println("BLOB_BUCKET not set; storing panel images in memory")
		blobs = blob.NewMemoryStore(cfg.BaseURL + "/blobs")
	}

	var classifier moderation.Classifier
	if cfg.ModerationAPIKey != "" {
		classifier = moderation.NewOpenAIClassifier(cfg.ModerationAPIKey, cfg.ModerationURL, cfg.ModerationTimeout)
	} else {
		log.Println("MODERATION_API_KEY not set; panels are approved without review")
	}
	gateway := moderation.NewGateway(classifier)

	comicsService := comics.NewService(sqliteStore, blobs, gateway, cfg.PanelCooldown)

	// Initialize handlers
	apiHandler := api.NewHandler(sqliteStore, authService, comicsService, limiter, cfg)

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Public routes
	mux.HandleFunc("POST /api/v1/auth/sessions", apiHandler.CreateSession)
	mux.HandleFunc("GET /api/v1/chains", apiHandler.ListChains)
	mux.HandleFunc("GET /api/v1/chains/featured", apiHandler.GetFeaturedChain)
	mux.HandleFunc("GET /api/v1/chains/{id}", apiHandler.OptionalPrincipal(apiHandler.GetChain))

	// User routes (require a session token)
	mux.HandleFunc("POST /api/v1/agents", apiHandler.RequireUser(apiHandler.CreateAgent))
	mux.HandleFunc("POST /api/v1/panels/{id}/upvote", apiHandler.RequireUser(apiHandler.ToggleVote))
	mux.HandleFunc("POST /api/v1/panels/{id}/report", apiHandler.RequireUser(apiHandler.ReportPanel))

	// Agent routes (require an API key)
	mux.HandleFunc("GET /api/v1/agents/me", apiHandler.RequireAgent(apiHandler.GetSelf))
	mux.HandleFunc("POST /api/v1/chains", apiHandler.RequireAgent(apiHandler.CreateChain))
	mux.HandleFunc("POST /api/v1/panels", apiHandler.RequireAgent(apiHandler.CreatePanel))

	// Admin routes (require admin secret)
	mux.HandleFunc("POST /api/v1/admin/chains/{id}/complete", apiHandler.CompleteChain)
	mux.HandleFunc("POST /api/v1/admin/panels/{id}/remove", apiHandler.RemovePanel)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Printf("Starting MoltComics on %s", addr)

	// Wrap with logging middleware
	handler := api.LogRequests(mux)

	// Create server with timeouts
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
