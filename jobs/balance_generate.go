package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-fsm/meridian/internal/balance"
	jobmetrics "github.com/meridian-fsm/meridian/internal/jobs"
)

// SheetGenerator reconciles one balance sheet.
type SheetGenerator interface {
	Generate(ctx context.Context, contractorID, storeID int64, month string) (balance.Sheet, []balance.LineItem, error)
}

// BalanceGenerateJob runs sheet reconciliation in the background. Generation
// replaces line items wholesale, so at-least-once delivery cannot accumulate.
type BalanceGenerateJob struct {
	Service SheetGenerator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewBalanceGenerateJob constructs the job handler.
func NewBalanceGenerateJob(service SheetGenerator, logger *slog.Logger, metrics *jobmetrics.Metrics) *BalanceGenerateJob {
	return &BalanceGenerateJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes a balance-sheet generation task.
func (j *BalanceGenerateJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("balance generate: handler not configured")
	}
	var payload BalanceGeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.ContractorID <= 0 || payload.StoreID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskBalanceGenerate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	sheet, items, err := j.Service.Generate(ctx, payload.ContractorID, payload.StoreID, payload.Month)
	if err != nil {
		// Retrying cannot fix a bad month or a finalized sheet.
		if errors.Is(err, balance.ErrInvalidMonth) || errors.Is(err, balance.ErrSheetFinalized) {
			j.log().Warn("balance generation rejected",
				slog.Int64("contractor_id", payload.ContractorID),
				slog.Int64("store_id", payload.StoreID),
				slog.String("month", payload.Month),
				slog.Any("error", err))
			resultErr = err
			return asynq.SkipRetry
		}
		resultErr = err
		j.log().Error("balance generation failed",
			slog.Int64("contractor_id", payload.ContractorID),
			slog.Int64("store_id", payload.StoreID),
			slog.String("month", payload.Month),
			slog.Any("error", err))
		return resultErr
	}

	j.log().Info("generated balance sheet",
		slog.Int64("contractor_id", sheet.ContractorID),
		slog.Int64("store_id", sheet.StoreID),
		slog.String("month", sheet.Month),
		slog.Int("line_items", len(items)),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *BalanceGenerateJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *BalanceGenerateJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBalanceGenerate))
	}
	return slog.Default().With(slog.String("job", TaskBalanceGenerate))
}
