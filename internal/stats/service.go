package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-fsm/meridian/internal/orders"
	"github.com/meridian-fsm/meridian/internal/shared"
)

// FactSource describes the count queries the engine derives counters from.
type FactSource interface {
	RegionKeys(ctx context.Context) ([]string, error)
	CountLifecycle(ctx context.Context, regionKey string, statuses ...orders.LifecycleStatus) (int64, error)
	CountHeadOfficePassed(ctx context.Context, regionKey string) (int64, error)
	CountAnyRejected(ctx context.Context, regionKey string) (int64, error)
	CountBillable(ctx context.Context, regionKey string) (int64, error)
}

// CounterStore persists the derived rows.
type CounterStore interface {
	Get(ctx context.Context, regionKey string) (RegionCounters, error)
	Upsert(ctx context.Context, counters RegionCounters) error
}

// Engine computes and persists per-region counters.
type Engine struct {
	facts    FactSource
	counters CounterStore
	logger   *slog.Logger
	clock    func() time.Time
}

// NewEngine constructs the stats engine.
func NewEngine(facts FactSource, counters CounterStore, logger *slog.Logger) *Engine {
	return &Engine{
		facts:    facts,
		counters: counters,
		logger:   logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (e *Engine) WithClock(clock func() time.Time) {
	if e != nil && clock != nil {
		e.clock = clock
	}
}

// Compute derives fresh counters for one region. The count queries are
// siblings: each runs independently so total latency is the slowest query,
// not the sum. A region with no records yields an all-zero row.
func (e *Engine) Compute(ctx context.Context, regionKey string) (RegionCounters, error) {
	if e == nil || e.facts == nil {
		return RegionCounters{}, errors.New("stats: engine not configured")
	}
	c := RegionCounters{RegionKey: regionKey, ComputedAt: e.clock()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		c.Pending, err = e.facts.CountLifecycle(gctx, regionKey, orders.StatusPending, orders.StatusInProgress)
		return err
	})
	g.Go(func() (err error) {
		c.Completed, err = e.facts.CountLifecycle(gctx, regionKey, orders.StatusCompleted)
		return err
	})
	g.Go(func() (err error) {
		c.Returned, err = e.facts.CountLifecycle(gctx, regionKey, orders.StatusReturned)
		return err
	})
	g.Go(func() (err error) {
		c.ProvisionallyClosed, err = e.facts.CountLifecycle(gctx, regionKey, orders.StatusProvisionallyClosed)
		return err
	})
	g.Go(func() (err error) {
		c.AcceptancePassed, err = e.facts.CountHeadOfficePassed(gctx, regionKey)
		return err
	})
	g.Go(func() (err error) {
		c.AcceptanceRejected, err = e.facts.CountAnyRejected(gctx, regionKey)
		return err
	})
	g.Go(func() (err error) {
		c.Billable, err = e.facts.CountBillable(gctx, regionKey)
		return err
	})
	if err := g.Wait(); err != nil {
		return RegionCounters{}, fmt.Errorf("stats: compute %s: %w", regionKey, err)
	}
	return c, nil
}

// SyncOne recomputes every counter for the region and upserts the row in a
// single write. A failed write leaves the previous row intact.
func (e *Engine) SyncOne(ctx context.Context, regionKey string) (RegionCounters, error) {
	counters, err := e.Compute(ctx, regionKey)
	if err != nil {
		return RegionCounters{}, err
	}
	if err := e.counters.Upsert(ctx, counters); err != nil {
		return RegionCounters{}, err
	}
	return counters, nil
}

// SyncAll recomputes counters for every known region. Per-region failures are
// collected so one bad region does not abort the sweep; the joined error is
// returned after all regions have been attempted.
func (e *Engine) SyncAll(ctx context.Context) (int, error) {
	if e == nil || e.facts == nil {
		return 0, errors.New("stats: engine not configured")
	}
	regions, err := e.facts.RegionKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("stats: list regions: %w", err)
	}
	synced := 0
	var errs []error
	for _, region := range regions {
		if _, err := e.SyncOne(ctx, region); err != nil {
			errs = append(errs, err)
			e.log().Error("sync region counters", slog.String("region", region), slog.Any("error", err))
			continue
		}
		synced++
	}
	return synced, errors.Join(errs...)
}

// DriftCorrection recomputes counters for every region, overwrites any stored
// row that diverges from the freshly computed truth, and returns the corrected
// region keys. A missing row counts as divergence so zero-activity regions
// heal to an explicit all-zero row. Safe to run concurrently with event-driven
// syncs: overwriting a key with the same computed value is a no-op in effect.
func (e *Engine) DriftCorrection(ctx context.Context) ([]string, error) {
	if e == nil || e.facts == nil || e.counters == nil {
		return nil, errors.New("stats: engine not configured")
	}
	regions, err := e.facts.RegionKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: list regions: %w", err)
	}
	var corrected []string
	for _, region := range regions {
		fresh, err := e.Compute(ctx, region)
		if err != nil {
			return corrected, err
		}
		stored, err := e.counters.Get(ctx, region)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return corrected, err
		}
		if err == nil && stored.Equal(fresh) {
			continue
		}
		if err := e.counters.Upsert(ctx, fresh); err != nil {
			return corrected, err
		}
		corrected = append(corrected, region)
		e.log().Warn("corrected drifted counters",
			slog.String("region", region),
			slog.Int64("pending", fresh.Pending),
			slog.Int64("completed", fresh.Completed))
	}
	sort.Strings(corrected)
	return corrected, nil
}

func (e *Engine) log() *slog.Logger {
	if e != nil && e.logger != nil {
		return e.logger
	}
	return slog.Default()
}
