package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paulgrammer/tripplanner/internal/cache"
	"github.com/paulgrammer/tripplanner/internal/config"
	"github.com/paulgrammer/tripplanner/internal/firestore"
	"github.com/paulgrammer/tripplanner/internal/gauth"
	"github.com/paulgrammer/tripplanner/internal/generator"
	"github.com/paulgrammer/tripplanner/internal/httpapi"
	"github.com/paulgrammer/tripplanner/internal/jobs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	// Core components
	store, err := newStore(cfg)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	gen := generator.NewOpenAIGenerator(cfg.OpenAI.APIKey.Reveal(), generator.WithGeneratorConfig(&generator.GeneratorConfig{
		APIKey:      cfg.OpenAI.APIKey.Reveal(),
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		LogContent:  cfg.OpenAI.LogContent,
	}))
	streamer := jobs.NewEventStreamer()

	opts := []jobs.ManagerOption{jobs.WithLogger(logger)}
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Reveal(),
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if cerr := rdb.Close(); cerr != nil {
				slog.Error("close redis failed", "error", cerr)
			}
		}()
		snapshots := cache.NewRedis(rdb, cfg.Redis.CacheTTL)
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if perr := snapshots.Ping(pingCtx); perr != nil {
			slog.Warn("redis unavailable, polls will read the store directly", "addr", cfg.Redis.Addr, "error", perr)
		} else {
			opts = append(opts, jobs.WithSnapshotCache(snapshots))
		}
		cancel()
	}

	manager, err := jobs.NewManager(cfg.Jobs.PoolSize, cfg.Jobs.QueueSize, store, gen, streamer, opts...)
	if err != nil {
		slog.Error("failed to initialize manager", "error", err)
		os.Exit(1)
	}

	mux := httpapi.NewRouter(manager, httpapi.Options{AllowedOrigin: cfg.HTTP.AllowedOrigin})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.HTTP.Addr, "store", cfg.Store, "pool_size", cfg.Jobs.PoolSize)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Accepted jobs keep running until they reach a terminal state.
	slog.Info("waiting for background jobs")
	manager.Stop()
	slog.Info("shutdown complete")
}

func newStore(cfg config.Config) (jobs.Store, error) {
	if cfg.Store == config.StoreMemory {
		slog.Warn("using in-memory job store; documents are lost on restart")
		return jobs.NewInMemoryStore(), nil
	}

	minter := gauth.NewMinter(
		gauth.WithTokenURL(cfg.Google.TokenURL),
		gauth.WithScope(cfg.Google.Scope),
		gauth.WithMintObserver(jobs.ObserveCredentialMint),
	)
	account := gauth.ServiceAccount{
		ClientEmail: cfg.Google.ClientEmail,
		PrivateKey:  cfg.Google.PrivateKey.Reveal(),
	}

	var tokens firestore.TokenSource = gauth.NewSource(minter, account)
	if cfg.Google.CacheTokens {
		tokens = gauth.NewCachedSource(minter, account)
	}

	client, err := firestore.NewClient(firestore.Config{
		BaseURL:    cfg.Firestore.BaseURL,
		ProjectID:  cfg.Firestore.ProjectID,
		Database:   cfg.Firestore.Database,
		Collection: cfg.Firestore.Collection,
	}, tokens)
	if err != nil {
		return nil, err
	}
	return client, nil
}
