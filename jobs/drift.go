package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-fsm/meridian/internal/jobs"
)

// DriftCorrector re-derives counter truth and heals divergence.
type DriftCorrector interface {
	DriftCorrection(ctx context.Context) ([]string, error)
}

// Notifier enqueues operator notifications.
type Notifier interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (JobRef, error)
}

// DriftJob is the scheduled self-healing backstop for the counter store. It
// runs on a fixed cadence regardless of the event-driven sync path.
type DriftJob struct {
	Corrector DriftCorrector
	Notifier  Notifier
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewDriftJob constructs the job handler.
func NewDriftJob(corrector DriftCorrector, notifier Notifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *DriftJob {
	return &DriftJob{Corrector: corrector, Notifier: notifier, Logger: logger, Metrics: metrics}
}

// Handle executes a drift-correction task. Running twice concurrently is
// safe: both passes overwrite the same keys with the same computed values.
func (j *DriftJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Corrector == nil {
		return errors.New("drift correction: handler not configured")
	}

	tracker := j.metrics().Track(TaskStatsDrift)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	corrected, err := j.Corrector.DriftCorrection(ctx)
	if err != nil {
		resultErr = err
		j.log().Error("drift correction", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddCorrections("counter_drift", len(corrected))

	if len(corrected) == 0 {
		j.log().Info("counters at quiescence", slog.Duration("duration", time.Since(start)))
		return resultErr
	}

	j.log().Warn("healed drifted counters",
		slog.Int("regions", len(corrected)),
		slog.String("region_keys", strings.Join(corrected, ",")),
		slog.Duration("duration", time.Since(start)))

	if j.Notifier != nil {
		notify, err := NewNotifySendTask(NotifySendPayload{
			Subject: "counter drift corrected",
			Body:    fmt.Sprintf("drift correction rewrote counters for regions: %s", strings.Join(corrected, ", ")),
		})
		if err == nil {
			if _, err := j.Notifier.Enqueue(ctx, notify); err != nil {
				j.log().Warn("enqueue drift notification", slog.Any("error", err))
			}
		}
	}
	return resultErr
}

func (j *DriftJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *DriftJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStatsDrift))
	}
	return slog.Default().With(slog.String("job", TaskStatsDrift))
}
