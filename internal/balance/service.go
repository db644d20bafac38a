package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-fsm/meridian/internal/shared"
)

// MovementSource describes the three independent movement aggregations.
type MovementSource interface {
	IssuedTotals(ctx context.Context, contractorID, storeID int64, start, end time.Time) (map[int64]decimal.Decimal, error)
	ReturnedTotals(ctx context.Context, contractorID, storeID int64, start, end time.Time) (map[int64]decimal.Decimal, error)
	UsageTotals(ctx context.Context, contractorID, storeID int64, start, end time.Time) (used, wastage map[int64]decimal.Decimal, err error)
}

// SheetStore persists balance sheets.
type SheetStore interface {
	GetSheet(ctx context.Context, contractorID, storeID int64, month string) (Sheet, []LineItem, error)
	ReplaceSheet(ctx context.Context, sheet Sheet, items []LineItem) error
}

// Locker serializes generation runs for the same sheet key. Runs for
// different keys proceed independently.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Service generates balance-sheet snapshots.
type Service struct {
	movements MovementSource
	sheets    SheetStore
	locker    Locker
	loc       *time.Location
	logger    *slog.Logger
	clock     func() time.Time
}

// NewService constructs the reconciliation service. loc is the operative
// reporting calendar; nil means UTC.
func NewService(movements MovementSource, sheets SheetStore, locker Locker, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		movements: movements,
		sheets:    sheets,
		locker:    locker,
		loc:       loc,
		logger:    logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if s != nil && clock != nil {
		s.clock = clock
	}
}

// Generate reconciles issued, accepted-return and usage movements for the
// (contractor, store, month) key into one snapshot. Regeneration replaces the
// previous line items wholesale; a failed aggregation aborts before any write
// so the existing sheet survives untouched.
func (s *Service) Generate(ctx context.Context, contractorID, storeID int64, month string) (Sheet, []LineItem, error) {
	if s == nil || s.movements == nil || s.sheets == nil {
		return Sheet{}, nil, errors.New("balance: service not configured")
	}
	start, end, err := MonthRange(month, s.loc)
	if err != nil {
		return Sheet{}, nil, err
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.BalanceLockKey(contractorID, storeID, month))
		if err != nil {
			return Sheet{}, nil, fmt.Errorf("balance: acquire lock: %w", err)
		}
		defer release()
	}

	existing, _, err := s.sheets.GetSheet(ctx, contractorID, storeID, month)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return Sheet{}, nil, err
	}
	if err == nil && existing.Status == SheetFinalized {
		return Sheet{}, nil, ErrSheetFinalized
	}

	issued, err := s.movements.IssuedTotals(ctx, contractorID, storeID, start, end)
	if err != nil {
		return Sheet{}, nil, err
	}
	returned, err := s.movements.ReturnedTotals(ctx, contractorID, storeID, start, end)
	if err != nil {
		return Sheet{}, nil, err
	}
	used, wastage, err := s.movements.UsageTotals(ctx, contractorID, storeID, start, end)
	if err != nil {
		return Sheet{}, nil, err
	}

	items := buildLineItems(issued, returned, used, wastage)

	sheet := Sheet{
		ContractorID: contractorID,
		StoreID:      storeID,
		Month:        month,
		Status:       SheetGenerated,
		GeneratedAt:  s.clock(),
	}
	if err := s.sheets.ReplaceSheet(ctx, sheet, items); err != nil {
		return Sheet{}, nil, err
	}

	s.log().Info("generated balance sheet",
		slog.Int64("contractor_id", contractorID),
		slog.Int64("store_id", storeID),
		slog.String("month", month),
		slog.Int("line_items", len(items)))
	return sheet, items, nil
}

// buildLineItems unions the item ids touched by any source and computes the
// closing balance per item.
func buildLineItems(issued, returned, used, wastage map[int64]decimal.Decimal) []LineItem {
	ids := map[int64]bool{}
	for _, m := range []map[int64]decimal.Decimal{issued, returned, used, wastage} {
		for id := range m {
			ids[id] = true
		}
	}
	items := make([]LineItem, 0, len(ids))
	for id := range ids {
		li := LineItem{
			ItemID:   id,
			Issued:   issued[id],
			Returned: returned[id],
			Used:     used[id],
			Wastage:  wastage[id],
		}
		li.ComputeBalance()
		items = append(items, li)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })
	return items
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
