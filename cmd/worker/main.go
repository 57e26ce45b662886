package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/northwire-isp/northwire/internal/app"
	jobmetrics "github.com/northwire-isp/northwire/internal/jobs"
	"github.com/northwire-isp/northwire/internal/platform/cache"
	"github.com/northwire-isp/northwire/internal/platform/db"
	"github.com/northwire-isp/northwire/internal/rbac"
	"github.com/northwire-isp/northwire/internal/shared"
	"github.com/northwire-isp/northwire/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

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
		logger.Error("connect database", slog.Any("error", err))
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

	metrics := jobmetrics.NewMetrics(nil)

	rbacRepo := rbac.NewRepository(pool)
	// The reconcile job mutates roles, so its invalidations must reach
	// the same grant cache the API server reads.
	grantCache := rbac.NewGrantCache(redisClient, cfg.GrantCacheTTL)
	rbacService := rbac.NewService(rbacRepo, nil, grantCache, logger)
	synchronizer := rbac.NewSynchronizer(rbacService, logger)

	reconcileJob := jobs.NewReconcileJob(synchronizer, shared.AllScopes, logger, metrics)
	digestJob := jobs.NewHighRiskDigestJob(pool, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRBACReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskAuditHighRiskDigest, Handler: digestJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: jobs.NewReconcileTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.DigestCron, Task: jobs.NewHighRiskDigestTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	if _, err := client.EnqueueReconcile(ctx); err != nil {
		logger.Warn("enqueue initial reconcile", slog.Any("error", err))
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
