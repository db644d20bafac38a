package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-fsm/meridian/internal/jobs"
	"github.com/meridian-fsm/meridian/internal/syncer"
)

// SyncOrchestrator sweeps all regions against the external source.
type SyncOrchestrator interface {
	SyncAll(ctx context.Context, progress func(done, total int)) (syncer.Result, error)
}

// RunStore persists the last run summary across restarts.
type RunStore interface {
	Upsert(ctx context.Context, key, value string) error
}

// GlobalSyncJob runs the full external sync. Long sweeps report progress
// through the task's result writer so a poller can tell "running" from
// "stuck"; the per-task timeout bounds wall-clock runtime.
type GlobalSyncJob struct {
	Syncer  SyncOrchestrator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics

	runs RunStore
}

// NewGlobalSyncJob constructs the job handler.
func NewGlobalSyncJob(orchestrator SyncOrchestrator, logger *slog.Logger, metrics *jobmetrics.Metrics) *GlobalSyncJob {
	return &GlobalSyncJob{Syncer: orchestrator, Logger: logger, Metrics: metrics}
}

// WithRunStore makes the job record its last run summary, surviving queue
// retention where task results do not.
func (j *GlobalSyncJob) WithRunStore(runs RunStore) {
	j.runs = runs
}

// LastSyncRunKey is the system setting under which the last completed run
// summary is stored.
const LastSyncRunKey = "sync:last_run"

// Handle executes a global sync task.
func (j *GlobalSyncJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Syncer == nil {
		return errors.New("global sync: handler not configured")
	}

	tracker := j.metrics().Track(TaskSyncGlobal)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	writer := task.ResultWriter()
	progress := func(done, total int) {
		if writer == nil {
			return
		}
		data, err := json.Marshal(Progress{Done: done, Total: total})
		if err != nil {
			return
		}
		if _, err := writer.Write(data); err != nil {
			j.log().Warn("write progress", slog.Any("error", err))
		}
	}

	start := time.Now()
	run, err := j.Syncer.SyncAll(ctx, progress)
	if err != nil {
		resultErr = err
		j.log().Error("global sync", slog.Any("error", err))
		return resultErr
	}

	if data, err := json.Marshal(run); err == nil {
		if writer != nil {
			if _, err := writer.Write(data); err != nil {
				j.log().Warn("write run summary", slog.Any("error", err))
			}
		}
		if j.runs != nil {
			if err := j.runs.Upsert(ctx, LastSyncRunKey, string(data)); err != nil {
				j.log().Warn("record last run", slog.Any("error", err))
			}
		}
	}

	created, updated, failed := run.Totals()
	j.log().Info("global sync finished",
		slog.String("run_id", run.RunID),
		slog.Int("created", created),
		slog.Int("updated", updated),
		slog.Int("failed", failed),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *GlobalSyncJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GlobalSyncJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSyncGlobal))
	}
	return slog.Default().With(slog.String("job", TaskSyncGlobal))
}
