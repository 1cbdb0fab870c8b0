package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/authgrid/authgrid/internal/app"
	jobmetrics "github.com/authgrid/authgrid/internal/jobs"
	"github.com/authgrid/authgrid/internal/observability"
	"github.com/authgrid/authgrid/internal/platform/cache"
	"github.com/authgrid/authgrid/internal/platform/db"
	"github.com/authgrid/authgrid/internal/rbac"
	"github.com/authgrid/authgrid/jobs"
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
	resolver := rbac.NewResolver(rbac.NewRepository(pool), rbac.NewRedisCache(redisClient), logger, metrics, rbac.Options{
		AdminRoleID: cfg.AdminRoleID,
		CacheTTL:    cfg.RBACCacheTTL,
	})

	warmupJob := jobs.NewTreeWarmupJob(resolver, logger, jobmetrics.NewMetrics(metrics.Registerer()))

	warmupTask, err := jobs.NewTreeWarmupTask(jobs.TreeWarmupPayload{Scope: jobs.ScopeAll})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTreeWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.WarmupSchedule, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("queue", jobs.QueueDefault))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
