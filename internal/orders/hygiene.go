package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-fsm/meridian/internal/shared"
)

// HygieneRepository describes the repair operations the hygiene pass needs.
type HygieneRepository interface {
	DuplicateSONums(ctx context.Context) ([]string, error)
	CollapseDuplicate(ctx context.Context, soNum string) (int64, error)
	ClearCompletionDates(ctx context.Context) (int64, error)
	RegressUndatedCompleted(ctx context.Context) (int64, error)
}

// HygieneSummary reports what a hygiene run repaired.
type HygieneSummary struct {
	DuplicateKeys     int   `json:"duplicate_keys"`
	RecordsRemoved    int64 `json:"records_removed"`
	DatesCleared      int64 `json:"dates_cleared"`
	StatusesRegressed int64 `json:"statuses_regressed"`
}

// Repaired reports whether the run changed anything.
func (s HygieneSummary) Repaired() bool {
	return s.DuplicateKeys > 0 || s.DatesCleared > 0 || s.StatusesRegressed > 0
}

// Hygiene detects and repairs fact-store corruption the stats engine depends
// on being absent: duplicate active records per service-order number, and
// completion dates that disagree with the lifecycle status.
type Hygiene struct {
	repo   HygieneRepository
	logger *slog.Logger
}

// NewHygiene constructs the hygiene service.
func NewHygiene(repo HygieneRepository, logger *slog.Logger) *Hygiene {
	return &Hygiene{repo: repo, logger: logger}
}

// Run executes duplicate collapse followed by status/date repair. It must run
// before any stats computation that assumes one record per key.
func (h *Hygiene) Run(ctx context.Context) (HygieneSummary, error) {
	if h == nil || h.repo == nil {
		return HygieneSummary{}, errors.New("orders: hygiene not configured")
	}
	var summary HygieneSummary

	dupes, err := h.repo.DuplicateSONums(ctx)
	if err != nil {
		return summary, fmt.Errorf("orders: list duplicates: %w", err)
	}
	for _, soNum := range dupes {
		removed, err := h.repo.CollapseDuplicate(ctx, soNum)
		if err != nil {
			return summary, fmt.Errorf("orders: collapse %s: %w", soNum, err)
		}
		summary.DuplicateKeys++
		summary.RecordsRemoved += removed
		h.log().Warn("collapsed duplicate service order",
			slog.String("so_num", soNum), slog.Int64("removed", removed),
			slog.String("class", shared.ErrDataIntegrity.Error()))
	}

	cleared, err := h.repo.ClearCompletionDates(ctx)
	if err != nil {
		return summary, fmt.Errorf("orders: clear completion dates: %w", err)
	}
	summary.DatesCleared = cleared

	regressed, err := h.repo.RegressUndatedCompleted(ctx)
	if err != nil {
		return summary, fmt.Errorf("orders: regress undated completed: %w", err)
	}
	summary.StatusesRegressed = regressed

	if summary.Repaired() {
		h.log().Info("hygiene pass repaired records",
			slog.Int("duplicate_keys", summary.DuplicateKeys),
			slog.Int64("records_removed", summary.RecordsRemoved),
			slog.Int64("dates_cleared", cleared),
			slog.Int64("statuses_regressed", regressed))
	}
	return summary, nil
}

func (h *Hygiene) log() *slog.Logger {
	if h != nil && h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
