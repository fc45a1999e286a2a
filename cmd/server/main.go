// Reflow - reactive script runtime server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/reflow/internal/api"
	"github.com/ashureev/reflow/internal/cache"
	"github.com/ashureev/reflow/internal/config"
	"github.com/ashureev/reflow/internal/engine"
	"github.com/ashureev/reflow/internal/identity"
	"github.com/ashureev/reflow/internal/middleware"
	"github.com/ashureev/reflow/internal/session"
	"github.com/ashureev/reflow/internal/store"
	"github.com/ashureev/reflow/internal/transport"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Persistence is optional; without it sessions live in memory only.
	var repo store.Repository
	if cfg.Persistence {
		repo, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()

		if err := repo.Ping(context.Background()); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Database connected", "path", cfg.DBPath)
	} else {
		slog.Info("Persistence disabled, sessions are in-memory only")
	}

	// Shared memoization cache, optionally backed by Redis.
	var backend cache.Backend
	if cfg.Cache.RedisURL != "" {
		rb, err := cache.NewRedisBackend(context.Background(), cfg.Cache.RedisURL)
		if err != nil {
			slog.Error("Failed to connect cache backend", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := rb.Close(); closeErr != nil {
				slog.Error("Failed to close cache backend", "error", closeErr)
			}
		}()
		backend = rb
		slog.Info("Cache backend connected", "url", cfg.Cache.RedisURL)
	}

	memoCache, err := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL, backend)
	if err != nil {
		slog.Error("Failed to initialize cache", "error", err)
		os.Exit(1)
	}

	// Runtime core.
	eng := engine.New(memoCache)
	registry := transport.NewRegistry()
	mgr := session.NewManager(eng, demoApp, registry, repo, cfg.SessionTTL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr.Start(ctx)
	slog.Info("Session manager started", "session_ttl", cfg.SessionTTL)

	// Handlers.
	apiHandler := api.NewHandler(repo, mgr, memoCache)
	wsHandler := transport.NewHandler(mgr, registry, cfg.FrontendURL, cfg.IsDevelopment())

	// Router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	// An explicit frontend origin gets credentialed CORS; dev falls
	// back to a wildcard without credentials.
	origins := []string{"*"}
	if cfg.FrontendURL != "" {
		origins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(origins, identity.TabHeaderName))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)
	r.Get("/ws/app", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: frames stream over long-lived sockets.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
