package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-fsm/meridian/internal/jobs"
	"github.com/meridian-fsm/meridian/internal/syncer"
)

// RegionSyncer sweeps one region against the external source.
type RegionSyncer interface {
	SyncRegion(ctx context.Context, regionKey string) syncer.RegionResult
}

// RegionSyncJob syncs a single region on demand, then schedules a counter
// recomputation when the sweep touched anything.
type RegionSyncJob struct {
	Syncer  RegionSyncer
	Queue   Notifier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRegionSyncJob constructs the job handler.
func NewRegionSyncJob(regionSyncer RegionSyncer, queue Notifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *RegionSyncJob {
	return &RegionSyncJob{Syncer: regionSyncer, Queue: queue, Logger: logger, Metrics: metrics}
}

// Handle executes a single-region sync task.
func (j *RegionSyncJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Syncer == nil {
		return errors.New("region sync: handler not configured")
	}
	var payload SyncRegionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RegionKey == "" {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskSyncRegion)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	result := j.Syncer.SyncRegion(ctx, payload.RegionKey)
	if result.Error != "" {
		resultErr = fmt.Errorf("region sync %s: %s", payload.RegionKey, result.Error)
		j.log().Error("region sync", slog.String("region", payload.RegionKey), slog.String("error", result.Error))
		return resultErr
	}

	j.log().Info("region sync finished",
		slog.String("region", payload.RegionKey),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", time.Since(start)))

	if j.Queue != nil && result.Touched() {
		statsTask, err := NewStatsUpdateTask(payload.RegionKey)
		if err == nil {
			if _, err := j.Queue.Enqueue(ctx, statsTask); err != nil {
				j.log().Warn("enqueue stats update", slog.String("region", payload.RegionKey), slog.Any("error", err))
			}
		}
	}
	return resultErr
}

func (j *RegionSyncJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RegionSyncJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSyncRegion))
	}
	return slog.Default().With(slog.String("job", TaskSyncRegion))
}
