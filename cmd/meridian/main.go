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
	"github.com/meridian-fsm/meridian/internal/observability"
	"github.com/meridian-fsm/meridian/internal/ops"
	"github.com/meridian-fsm/meridian/internal/platform/cache"
	"github.com/meridian-fsm/meridian/internal/platform/db"
	"github.com/meridian-fsm/meridian/jobs"
)

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

	balanceRepo := balance.NewRepository(pool)
	balanceLocker := balance.NewRedisLocker(redisClient, cfg.JobTimeout)
	balanceService := balance.NewService(balanceRepo, balanceRepo, balanceLocker, loc, logger)

	opsHandler := ops.NewHandler(queue, balanceService, logger)
	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Pool:    pool,
		Ops:     opsHandler,
		Metrics: metrics,
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
