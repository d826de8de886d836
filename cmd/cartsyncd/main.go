package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tiendamovil/cartsync/internal/api/handlers"
	"github.com/tiendamovil/cartsync/internal/api/middleware"
	"github.com/tiendamovil/cartsync/internal/cache"
	"github.com/tiendamovil/cartsync/internal/cart"
	"github.com/tiendamovil/cartsync/internal/config"
	"github.com/tiendamovil/cartsync/internal/gateway"
	"github.com/tiendamovil/cartsync/internal/health"
	"github.com/tiendamovil/cartsync/internal/identity"
	"github.com/tiendamovil/cartsync/internal/metrics"
	"github.com/tiendamovil/cartsync/internal/storage"
	syncops "github.com/tiendamovil/cartsync/internal/sync"
)

func main() {

	// Logger setup
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load config
	cfg := config.MustLoad()

	// Storage setup
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		slog.Error("❌ Error opening local storage", "error", err.Error())
		os.Exit(1)
	}

	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("⚠️ Error closing local storage", slog.String("error", err.Error()))
		} else {
			slog.Info("✅ Local storage closed")
		}
	}()

	// Response cache setup
	respCache := newResponseCache(cfg)
	defer func() { _ = respCache.Close() }()

	// Identity provider: the host shell pushes tokens over the facade; a
	// token file seeds the session for headless runs.
	provider := identity.NewTokenProvider(tokenSource(cfg))

	if cfg.Identity.TokenPath != "" {
		if err := provider.SignIn(context.Background()); err != nil {
			slog.Warn("Starting anonymous, token file not usable", slog.String("error", err.Error()))
		}
	}

	gw := gateway.New(&cfg.RemoteAPI, provider, respCache)
	ops := syncops.NewOps(gw, provider)
	worker := syncops.NewWorker(store, ops, provider, &cfg.Outbox, nil)
	controller := cart.NewController(store, gw, provider, worker)
	worker.SetItemSyncedFunc(controller.OnItemSynced)

	defer controller.Close()

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	go worker.Run(workerCtx)

	cartHandler := handlers.NewCartHandler(controller)
	sessionHandler := handlers.NewSessionHandler(provider, controller)

	healthHandler, err := health.NewHealthHandler(cfg, &health.Endpoints{Store: store})
	if err != nil {
		slog.Error("❌ Error creating health handler", "error", err.Error())
		os.Exit(1)
	}

	slog.Info("engine initialized", slog.String("env", cfg.Env), slog.String("storage", cfg.Storage.Path))

	// Setup router
	routerMux := http.NewServeMux()
	routerMux.HandleFunc("GET /v1/cart", cartHandler.GetCart())
	routerMux.HandleFunc("GET /v1/cart/summary", cartHandler.GetSummary())
	routerMux.HandleFunc("POST /v1/cart/items", cartHandler.AddItem())
	routerMux.HandleFunc("PATCH /v1/cart/items/{id}/quantity", cartHandler.UpdateQuantity())
	routerMux.HandleFunc("PATCH /v1/cart/items/{id}/check", cartHandler.ToggleCheck())
	routerMux.HandleFunc("DELETE /v1/cart/items/{id}", cartHandler.RemoveItem())
	routerMux.HandleFunc("POST /v1/cart/items/batch-delete", cartHandler.BatchRemove())
	routerMux.HandleFunc("DELETE /v1/cart", cartHandler.ClearCart())
	routerMux.HandleFunc("POST /v1/cart/refresh", cartHandler.Refresh())
	routerMux.HandleFunc("POST /v1/session/token", sessionHandler.SetToken())
	routerMux.HandleFunc("DELETE /v1/session", sessionHandler.SignOut())
	routerMux.HandleFunc("POST /v1/lifecycle", sessionHandler.AppState())
	routerMux.Handle("GET /metrics", metrics.Handler())
	routerMux.Handle("GET /healthz", healthHandler.Handler())

	// Middleware chaining
	var handler http.Handler = routerMux
	handler = metrics.Middleware(handler)
	handler = middleware.Logging(handler)

	// Setup http server
	server := http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	slog.Info("🚀 Facade is starting...", slog.String("address", cfg.Addr))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("❌ Failed to start facade", slog.Any("error", err.Error()))
		}
	}()

	<-done

	slog.Warn("🛑 Shutdown signal received. Preparing to stop...")

	stopWorker()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("⚠️ Facade shutdown encountered an issue", slog.String("error", err.Error()))
	} else {
		slog.Info("✅ Facade shut down gracefully. All connections closed.")
	}

}

func newResponseCache(cfg *config.Config) cache.Cache {

	if cfg.CacheConfig.Backend != "redis" {
		return cache.NewMemoryCache(&cfg.CacheConfig)
	}

	opt, err := redis.ParseURL(cfg.RedisConnect.GetDSN())
	if err != nil {
		slog.Error("Failed to parse Redis URL, falling back to memory cache", slog.String("error", err.Error()))
		return cache.NewMemoryCache(&cfg.CacheConfig)
	}

	opt.DB = cfg.RedisConnect.DB

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to Redis, falling back to memory cache", slog.String("error", err.Error()))
		return cache.NewMemoryCache(&cfg.CacheConfig)
	}

	slog.Info("✅ Successfully connected to Redis")

	return cache.NewRedisCache(client, &cfg.CacheConfig)
}

// tokenSource reads a fresh bearer token from the configured file on every
// refresh; a sidecar keeps that file current in headless deployments.
func tokenSource(cfg *config.Config) identity.TokenSource {

	if cfg.Identity.TokenPath == "" {
		return nil
	}

	return func(ctx context.Context) (string, error) {

		data, err := os.ReadFile(cfg.Identity.TokenPath)
		if err != nil {
			return "", err
		}

		return strings.TrimSpace(string(data)), nil
	}
}
