package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PanGan21/verifiable-storage/internal/api"
	"github.com/PanGan21/verifiable-storage/internal/auth"
	"github.com/PanGan21/verifiable-storage/internal/config"
	"github.com/PanGan21/verifiable-storage/internal/ratelimit"
	"github.com/PanGan21/verifiable-storage/internal/redisconn"
	"github.com/PanGan21/verifiable-storage/internal/storage"
	"github.com/PanGan21/verifiable-storage/internal/storage/database"
	"github.com/PanGan21/verifiable-storage/internal/storage/filesystem"
)

func main() {
	log.Println("[Server] Starting verifiable storage server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Server] Invalid configuration: %v", err)
	}

	ctx := context.Background()

	store, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("[Server] Failed to initialize storage backend: %v", err)
	}
	defer store.Close()

	authService := auth.NewService(store, cfg.ReplayMaxAge, cfg.ReplayClockSkew)
	limiter := ratelimit.NewLimiter(newRedisClient(cfg), cfg.UploadRateLimit, cfg.RateLimitWindow)

	server := api.NewServer(store, authService, limiter)
	router := server.Router()

	httpServer := &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[Server] HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Server] Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Server] Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("[Server] Server forced to shutdown: %v", err)
	}

	log.Println("[Server] Server exited gracefully")
}

func newStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendDatabase:
		log.Println("[Server] Using PostgreSQL storage backend")
		return database.Open(ctx, cfg.DatabaseURL)
	default:
		log.Printf("[Server] Using filesystem storage backend at %s", cfg.DataDir)
		return filesystem.New(cfg.DataDir)
	}
}

// newRedisClient returns nil when REDIS_URL is unset or unparsable, which
// makes the rate limiter fail-open rather than refuse to start.
func newRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisURL == "" {
		log.Println("[Server] REDIS_URL not set, rate limiting disabled (fail-open)")
		return nil
	}
	client, err := redisconn.Dial(cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		log.Printf("[Server] Invalid REDIS_URL, rate limiting disabled: %v", err)
		return nil
	}
	return client
}
