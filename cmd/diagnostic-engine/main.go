package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/terra-clan/legal-diagnostic/internal/api"
	"github.com/terra-clan/legal-diagnostic/internal/catalog"
	"github.com/terra-clan/legal-diagnostic/internal/chat"
	"github.com/terra-clan/legal-diagnostic/internal/cleanup"
	"github.com/terra-clan/legal-diagnostic/internal/config"
	"github.com/terra-clan/legal-diagnostic/internal/identity"
	"github.com/terra-clan/legal-diagnostic/internal/payment"
	"github.com/terra-clan/legal-diagnostic/internal/services"
	"github.com/terra-clan/legal-diagnostic/internal/session"
	"github.com/terra-clan/legal-diagnostic/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting diagnostic-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"session_store", cfg.Session.Store,
	)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	registry := services.NewRegistry()
	var closers []func() error

	// Registered users: PostgreSQL when configured, memory otherwise
	var repo storage.Repository
	if cfg.Database.DSN != "" {
		pg, err := storage.NewPostgresRepository(initCtx, storage.PostgresConfig{
			DSN:          cfg.Database.DSN,
			MaxOpenConns: int32(cfg.Database.MaxOpenConns),
			MaxIdleConns: int32(cfg.Database.MaxIdleConns),
		})
		if err != nil {
			slog.Error("failed to create database repository", "error", err)
			os.Exit(1)
		}
		closers = append(closers, pg.Close)

		slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
		if err := storage.RunMigrations(initCtx, pg.Pool(), cfg.Database.MigrationsDir); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("database connected successfully")

		postgresProvider, err := services.NewPostgresProvider(cfg.Database.DSN)
		if err != nil {
			slog.Error("failed to create postgres provider", "error", err)
			os.Exit(1)
		}
		closers = append(closers, postgresProvider.Close)
		registry.Register("postgres", postgresProvider)

		repo = pg
	} else {
		slog.Warn("no DATABASE_DSN configured, registered users are kept in memory")
		repo = storage.NewMemoryRepository()
	}

	// Session store
	var store session.Store
	switch cfg.Session.Store {
	case config.StoreRedis:
		redisProvider, err := services.NewRedisProvider(initCtx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Error("failed to create redis provider", "error", err)
			os.Exit(1)
		}
		closers = append(closers, redisProvider.Close)
		registry.Register("redis", redisProvider)
		store = session.NewRedisStore(redisProvider.Client())
	default:
		store = session.NewMemoryStore()
	}

	// Question catalog
	questions := catalog.NewLoader()
	if cfg.Catalog.Dir != "" {
		err = questions.LoadFromDir(cfg.Catalog.Dir)
	} else {
		err = questions.LoadDefaults()
	}
	if err != nil {
		slog.Error("failed to load catalog", "dir", cfg.Catalog.Dir, "error", err)
		os.Exit(1)
	}

	// AI assistant
	var assistant chat.Client = chat.OfflineClient{}
	if cfg.Chat.APIKey != "" {
		assistant, err = chat.NewAnthropicClient(chat.Config{
			APIURL:    cfg.Chat.APIURL,
			APIKey:    cfg.Chat.APIKey,
			Model:     cfg.Chat.Model,
			MaxTokens: cfg.Chat.MaxTokens,
			Timeout:   cfg.Chat.Timeout,
		})
		if err != nil {
			slog.Error("failed to create chat client", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("no CHAT_API_KEY configured, the assistant answers offline")
	}

	payments := payment.NewRegistry(payment.NewSimulatedGateways(
		cfg.Payment.Gateways,
		cfg.Payment.Delay,
		payment.Always(cfg.Payment.Success),
	)...)

	users := identity.NewProvider(repo, questions)

	manager := session.NewManager(store, questions, users, assistant, payments, session.Options{
		TTL:                     cfg.Session.TTL,
		ResultsDelay:            cfg.Session.ResultsDelay,
		RecommendationThreshold: cfg.Session.RecommendationThreshold,
		PendingTimeout:          cfg.Session.PendingTimeout,
	})
	registry.Register("sessions", services.NewCheckFunc("session-store", manager.Ping))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis expires keys itself; the reaper is only needed in memory
	if cfg.Session.Store == config.StoreMemory {
		cleanup.NewCleaner(manager, cfg.Cleanup.Interval).Start(ctx)
	}

	server := api.NewServer(cfg.Server, manager, questions, users, repo, registry)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Chat.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			slog.Error("close error", "error", err)
		}
	}

	slog.Info("diagnostic-engine stopped")
}
