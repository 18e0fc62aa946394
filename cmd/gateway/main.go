package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/anyllm/gateway/internal/gateway/auth"
	"github.com/anyllm/gateway/internal/gateway/budget"
	"github.com/anyllm/gateway/internal/gateway/cache"
	"github.com/anyllm/gateway/internal/gateway/handlers"
	"github.com/anyllm/gateway/internal/gateway/providers"
	"github.com/anyllm/gateway/internal/shared/config"
	"github.com/anyllm/gateway/internal/shared/database"
	"github.com/anyllm/gateway/internal/shared/logger"
	"github.com/anyllm/gateway/internal/shared/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog := logger.New(cfg.Env)
	defer zlog.Sync()

	zlog.Infow("starting gateway", "port", cfg.Port, "env", cfg.Env)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zlog.Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()
	zlog.Info("connected to PostgreSQL")

	// Initialize Redis
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		zlog.Fatalw("failed to connect to Redis", "error", err)
	}
	defer redisClient.Close()
	zlog.Info("connected to Redis")

	// Initialize providers and core services
	providerMgr := providers.NewManager(cfg)
	tokenService := auth.NewTokenService(cfg)
	resolver := auth.NewResolver(tokenService, db, cfg.MasterKey)
	gate := budget.NewGate(db)
	cacheService := cache.New(redisClient)

	// Initialize handlers
	chatHandler := handlers.NewChatHandler(providerMgr, gate, cacheService, db, zlog)
	generateHandler := handlers.NewGenerateHandler(providerMgr, gate, db, zlog)
	profileHandler := handlers.NewProfileHandler(db)
	middleware := handlers.NewMiddleware(resolver, db, redisClient, cfg.DefaultRateLimit)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORSMiddleware)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// API routes (with auth and rate limiting)
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.RateLimitMiddleware)

		r.Post("/chat/completions", chatHandler.HandleChatCompletion)
		r.Post("/generate/image", generateHandler.HandleGenerateImage)
		r.Get("/profile", profileHandler.HandleGetProfile)
	})

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		zlog.Infow("server listening", "addr", srv.Addr)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatalw("failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	zlog.Info("shutting down gracefully")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Errorw("server shutdown error", "error", err)
	}

	zlog.Info("server stopped")
}
