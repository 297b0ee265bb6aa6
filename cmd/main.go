package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/infrastructure/config"
	"github.com/ipede/uma-auth-service/internal/infrastructure/database"
	"github.com/ipede/uma-auth-service/internal/infrastructure/policy"
	"github.com/ipede/uma-auth-service/internal/infrastructure/storage"
	httprouter "github.com/ipede/uma-auth-service/internal/interfaces/http"
	"go.uber.org/zap"
)

// @title UMA Authorization Service API
// @version 1.0
// @description OAuth2/UMA 2.0 authorization server with permission tickets and claims gathering
// @host localhost:8080
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	// Select the entry store backend
	var store domain.EntryStore
	var db *database.Postgres
	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err = database.NewPostgres(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		pgStore := storage.NewPostgresStore(db, logger)
		go purgeLoop(ctx, pgStore, logger)
		store = pgStore
	case config.StoreRedis:
		redisStore, err := storage.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisStore.Close()
		store = redisStore
	default:
		memStore := storage.NewMemoryStore()
		defer memStore.Close()
		store = memStore
	}

	// Policies are attached programmatically; deployments extend this
	policies := policy.NewRegistry()

	// Create router
	router, err := httprouter.NewRouter(store, db, policies, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize router", zap.Error(err))
	}

	// Start server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", zap.Int("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited properly")
}

// purgeLoop drops expired entries on a timer. The running guard skips a
// tick when the previous purge has not finished, so slow sweeps never stack.
func purgeLoop(ctx context.Context, store *storage.PostgresStore, logger *zap.Logger) {
	var running atomic.Bool
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !running.CompareAndSwap(false, true) {
				continue
			}
			go func() {
				defer running.Store(false)
				if err := store.PurgeExpired(ctx); err != nil {
					logger.Warn("Expired entry purge failed", zap.Error(err))
				}
			}()
		}
	}
}
