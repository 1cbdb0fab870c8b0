package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/authgrid/authgrid/internal/app"
	"github.com/authgrid/authgrid/internal/directory"
	"github.com/authgrid/authgrid/internal/observability"
	"github.com/authgrid/authgrid/internal/platform/cache"
	"github.com/authgrid/authgrid/internal/platform/db"
	"github.com/authgrid/authgrid/internal/platform/events"
	"github.com/authgrid/authgrid/internal/rbac"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	rbacCache := rbac.NewRedisCache(redisClient)
	bus := events.NewBus(logger)

	rbacRepo := rbac.NewRepository(pool)
	resolver := rbac.NewResolver(rbacRepo, rbacCache, logger, metrics, rbac.Options{
		AdminRoleID: cfg.AdminRoleID,
		CacheTTL:    cfg.RBACCacheTTL,
	})
	rbac.NewInvalidator(rbacRepo, rbacCache, logger, metrics, cfg.AdminRoleID).Register(bus)

	guard := rbac.Middleware{Resolver: resolver, Logger: logger}
	rbacService := rbac.NewService(rbacRepo, bus, logger, cfg.AdminRoleID)
	rbacHandler := rbac.NewHandler(logger, resolver, rbacService, guard)

	directoryRepo := directory.NewRepository(pool)
	directoryService := directory.NewService(directoryRepo, bus, logger)
	directoryHandler := directory.NewHandler(logger, resolver, directoryService, guard)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		RBACHandler:      rbacHandler,
		DirectoryHandler: directoryHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
