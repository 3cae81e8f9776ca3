package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/aegis-grc/aegis/internal/app"
	"github.com/aegis-grc/aegis/internal/audit"
	"github.com/aegis-grc/aegis/internal/observability"
	"github.com/aegis-grc/aegis/internal/platform/db"
	"github.com/aegis-grc/aegis/jobs"
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

	metrics := observability.NewMetrics()

	denialJob := jobs.NewDenialAuditJob(audit.NewRecorder(pool), logger)
	notifyJob := jobs.NewApproverNotifyJob(logger)
	pendingJob := jobs.NewPendingScanJob(pool, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeDenialAudit, Handler: denialJob.Handle},
			{Type: jobs.TaskTypeApproverNotify, Handler: notifyJob.Handle},
			{Type: jobs.TaskTypePendingScan, Handler: pendingJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.PendingScanCron, Task: jobs.NewPendingScanTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
