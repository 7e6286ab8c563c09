// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
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

	"eventdesk/internal/config"
	"eventdesk/internal/database"
	"eventdesk/internal/engine"
	"eventdesk/internal/handler"
	"eventdesk/internal/metrics"
	"eventdesk/internal/repository"
	"eventdesk/internal/service"
	"eventdesk/internal/storage"
	"eventdesk/internal/storage/memory"
	"eventdesk/internal/storage/postgres"
	redisstore "eventdesk/internal/storage/redis"
)

func main() {
	ctx := context.Background()
	cfg := config.FromEnv()

	// ── 1. Connect to the configured storage backend ──────────────────────
	store, cleanup, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer cleanup()
	log.Printf("✓ Using %s storage backend", cfg.Backend)

	// ── 2. Wire up layers ────────────────────────────────────────────────
	m := metrics.New()
	eventRepo := repository.NewEventRepository(store)
	userRepo := repository.NewUserRepository(store)
	regRepo := repository.NewRegistrationRepository(store)
	eng := engine.New(eventRepo, userRepo, regRepo, m)
	eventSvc := service.NewEventService(eventRepo)
	userSvc := service.NewUserService(userRepo)
	h := handler.New(eventSvc, userSvc, eng)

	// ── 3. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler.Router(h),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Printf("✓ Server listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Println("server stopped")
}

// newStore builds the storage adapter selected by STORAGE_BACKEND.
func newStore(ctx context.Context, cfg config.Config) (storage.Store, func(), error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(), func() {}, nil

	case "postgres":
		pool, err := database.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.New(pool, cfg.StorageTimeout)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	case "redis":
		store, err := redisstore.Open(ctx, cfg.RedisURL, cfg.StorageTimeout)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
