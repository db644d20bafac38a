package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-fsm/meridian/internal/jobs"
	"github.com/meridian-fsm/meridian/internal/orders"
)

// HygieneRunner repairs fact-store corruption.
type HygieneRunner interface {
	Run(ctx context.Context) (orders.HygieneSummary, error)
}

// HygieneJob runs the fact-store hygiene pass ahead of stats work.
type HygieneJob struct {
	Hygiene HygieneRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewHygieneJob constructs the job handler.
func NewHygieneJob(hygiene HygieneRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *HygieneJob {
	return &HygieneJob{Hygiene: hygiene, Logger: logger, Metrics: metrics}
}

// Handle executes a hygiene task. The repairs are idempotent: a re-delivered
// task finds nothing left to collapse or clear.
func (j *HygieneJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Hygiene == nil {
		return errors.New("hygiene: handler not configured")
	}

	tracker := j.metrics().Track(TaskOrdersHygiene)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	summary, err := j.Hygiene.Run(ctx)
	if err != nil {
		resultErr = err
		j.log().Error("hygiene pass", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddCorrections("duplicate_collapse", int(summary.RecordsRemoved))
	j.metrics().AddCorrections("status_repair", int(summary.DatesCleared+summary.StatusesRegressed))

	j.log().Info("hygiene pass finished",
		slog.Int("duplicate_keys", summary.DuplicateKeys),
		slog.Int64("records_removed", summary.RecordsRemoved),
		slog.Int64("dates_cleared", summary.DatesCleared),
		slog.Int64("statuses_regressed", summary.StatusesRegressed),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *HygieneJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *HygieneJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOrdersHygiene))
	}
	return slog.Default().With(slog.String("job", TaskOrdersHygiene))
}
