package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-fsm/meridian/internal/app"
	"github.com/meridian-fsm/meridian/internal/balance"
	jobmetrics "github.com/meridian-fsm/meridian/internal/jobs"
	"github.com/meridian-fsm/meridian/internal/observability"
	"github.com/meridian-fsm/meridian/internal/orders"
	"github.com/meridian-fsm/meridian/internal/platform/cache"
	"github.com/meridian-fsm/meridian/internal/platform/db"
	"github.com/meridian-fsm/meridian/internal/scheduler"
	"github.com/meridian-fsm/meridian/internal/shared"
	"github.com/meridian-fsm/meridian/internal/stats"
	"github.com/meridian-fsm/meridian/internal/syncer"
	"github.com/meridian-fsm/meridian/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
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

	queue := jobs.NewClient(jobs.ClientConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		MaxRetry:  cfg.JobMaxRetry,
		Timeout:   cfg.JobTimeout,
		Retention: cfg.JobRetention,
	})
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	loc, err := time.LoadLocation(cfg.ReportingLocation)
	if err != nil {
		logger.Error("load reporting location", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	ordersRepo := orders.NewRepository(pool)
	hygiene := orders.NewHygiene(ordersRepo, logger)

	counterRepo := stats.NewCounterRepository(pool)
	statsEngine := stats.NewEngine(ordersRepo, counterRepo, logger)

	balanceRepo := balance.NewRepository(pool)
	balanceLocker := balance.NewRedisLocker(redisClient, cfg.JobTimeout)
	balanceService := balance.NewService(balanceRepo, balanceRepo, balanceLocker, loc, logger)

	statsJob := jobs.NewStatsUpdateJob(statsEngine, logger, jobMetrics)
	driftJob := jobs.NewDriftJob(statsEngine, queue, logger, jobMetrics)
	hygieneJob := jobs.NewHygieneJob(hygiene, logger, jobMetrics)
	balanceJob := jobs.NewBalanceGenerateJob(balanceService, logger, jobMetrics)

	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskStatsUpdate, Handler: statsJob.Handle},
		{Type: jobs.TaskStatsDrift, Handler: driftJob.Handle},
		{Type: jobs.TaskOrdersHygiene, Handler: hygieneJob.Handle},
		{Type: jobs.TaskBalanceGenerate, Handler: balanceJob.Handle},
	}
	cron := []jobs.CronRegistration{
		{Spec: "30 1 * * *", Task: jobs.NewOrdersHygieneTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
	}

	// The external sweep only runs when an upstream is configured; every
	// other queue keeps working without one.
	if cfg.SyncSourceURL != "" {
		source := syncer.NewHTTPSource(cfg.SyncSourceURL, nil)
		syncService := syncer.NewService(source, ordersRepo, queue, logger)
		globalSyncJob := jobs.NewGlobalSyncJob(syncService, logger, jobMetrics)
		globalSyncJob.WithRunStore(shared.NewKVStore(pool))
		regionSyncJob := jobs.NewRegionSyncJob(syncService, queue, logger, jobMetrics)
		handlers = append(handlers,
			jobs.TaskHandler{Type: jobs.TaskSyncGlobal, Handler: globalSyncJob.Handle},
			jobs.TaskHandler{Type: jobs.TaskSyncRegion, Handler: regionSyncJob.Handle})
		cron = append(cron, jobs.CronRegistration{
			Spec: "0 2 * * *", Task: jobs.NewSyncGlobalTask(), Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	} else {
		logger.Warn("sync source url not set, external sync disabled")
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		QueueConcurrency: map[string]int{
			jobs.QueueImport: cfg.ImportConcurrency,
			jobs.QueueSync:   cfg.SyncConcurrency,
			jobs.QueueNotify: cfg.NotifyConcurrency,
			jobs.QueueStats:  cfg.StatsConcurrency,
		},
		JobTimeout: cfg.JobTimeout,
		Handlers:   handlers,
		Cron:       cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info("starting metrics server", slog.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	// Drift correction runs on its own in-process ticker so the periodic
	// audit keeps going even when the queue backs up.
	driftRunner := scheduler.NewRunner("stats:drift", cfg.DriftInterval, func(ctx context.Context) error {
		return driftJob.Handle(ctx, jobs.NewStatsDriftTask())
	}, logger)
	driftRunner.Start(ctx)
	defer driftRunner.Stop()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
