package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-fsm/meridian/internal/jobs"
	"github.com/meridian-fsm/meridian/internal/stats"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StatsEngine describes the counter maintenance the job drives.
type StatsEngine interface {
	SyncOne(ctx context.Context, regionKey string) (stats.RegionCounters, error)
	SyncAll(ctx context.Context) (int, error)
}

// StatsUpdateJob recomputes denormalized counters. Re-delivery is harmless:
// the engine always rewrites the whole row from the fact store.
type StatsUpdateJob struct {
	Engine  StatsEngine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStatsUpdateJob constructs the job handler.
func NewStatsUpdateJob(engine StatsEngine, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatsUpdateJob {
	return &StatsUpdateJob{Engine: engine, Logger: logger, Metrics: metrics}
}

// Handle executes a stats-update task.
func (j *StatsUpdateJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("stats update: handler not configured")
	}
	var payload StatsUpdatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RegionKey == "" {
		payload.RegionKey = ScopeAll
	}

	tracker := j.metrics().Track(TaskStatsUpdate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	if payload.RegionKey == ScopeAll {
		synced, err := j.Engine.SyncAll(ctx)
		if err != nil {
			resultErr = err
			j.log().Error("sync all counters", slog.Int("synced", synced), slog.Any("error", err))
			return resultErr
		}
		j.log().Info("recomputed all counters", slog.Int("regions", synced), slog.Duration("duration", time.Since(start)))
		return resultErr
	}

	if _, err := j.Engine.SyncOne(ctx, payload.RegionKey); err != nil {
		resultErr = err
		j.log().Error("sync region counters", slog.String("region", payload.RegionKey), slog.Any("error", err))
		return resultErr
	}
	j.log().Info("recomputed region counters", slog.String("region", payload.RegionKey), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *StatsUpdateJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StatsUpdateJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStatsUpdate))
	}
	return slog.Default().With(slog.String("job", TaskStatsUpdate))
}
