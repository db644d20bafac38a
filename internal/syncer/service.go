package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-fsm/meridian/internal/orders"
	"github.com/meridian-fsm/meridian/internal/shared"
)

// SnapshotSource fetches current order state from the external system.
type SnapshotSource interface {
	FetchRegion(ctx context.Context, regionKey string) ([]OrderSnapshot, error)
}

// FactStore describes the fact-table operations the sweep needs.
type FactStore interface {
	RegionKeys(ctx context.Context) ([]string, error)
	GetBySONum(ctx context.Context, soNum string) (orders.ServiceOrder, error)
	Insert(ctx context.Context, o orders.ServiceOrder) (int64, error)
	Update(ctx context.Context, o orders.ServiceOrder) error
}

// StatsEnqueuer schedules counter maintenance for a touched region. Sync and
// counter updates are decoupled: a queue failure here never fails the sweep.
type StatsEnqueuer interface {
	EnqueueStatsUpdate(ctx context.Context, regionKey string) error
}

// Service orchestrates the external order sync.
type Service struct {
	source   SnapshotSource
	facts    FactStore
	enqueuer StatsEnqueuer
	logger   *slog.Logger

	// RegionParallelism bounds concurrent region sweeps.
	RegionParallelism int
}

// NewService constructs the sync orchestrator.
func NewService(source SnapshotSource, facts FactStore, enqueuer StatsEnqueuer, logger *slog.Logger) *Service {
	return &Service{source: source, facts: facts, enqueuer: enqueuer, logger: logger, RegionParallelism: 4}
}

// SyncRegion fetches the region's snapshots and upserts them into the fact
// store by service-order number. Per-record failures are counted and skipped,
// never propagated past the batch boundary.
func (s *Service) SyncRegion(ctx context.Context, regionKey string) RegionResult {
	result := RegionResult{RegionKey: regionKey}

	snapshots, err := s.source.FetchRegion(ctx, regionKey)
	if err != nil {
		result.Error = err.Error()
		s.log().Error("fetch region snapshots", slog.String("region", regionKey), slog.Any("error", err))
		return result
	}

	for _, snap := range snapshots {
		outcome, err := s.applySnapshot(ctx, regionKey, snap)
		if err != nil {
			result.Failed++
			s.log().Warn("skip malformed snapshot",
				slog.String("region", regionKey),
				slog.String("so_num", snap.SONum),
				slog.Any("error", err))
			continue
		}
		switch outcome {
		case outcomeCreated:
			result.Created++
		case outcomeUpdated:
			result.Updated++
		default:
			result.Unchanged++
		}
	}
	return result
}

type upsertOutcome int

const (
	outcomeUnchanged upsertOutcome = iota
	outcomeCreated
	outcomeUpdated
)

func (s *Service) applySnapshot(ctx context.Context, regionKey string, snap OrderSnapshot) (upsertOutcome, error) {
	if err := snap.Validate(); err != nil {
		return outcomeUnchanged, err
	}

	existing, err := s.facts.GetBySONum(ctx, snap.SONum)
	if errors.Is(err, shared.ErrNotFound) {
		record := orders.ServiceOrder{
			SONum:                snap.SONum,
			LifecycleStatus:      snap.LifecycleStatus,
			FieldAcceptance:      snap.FieldAcceptance,
			RegionalAcceptance:   snap.RegionalAcceptance,
			HeadOfficeAcceptance: snap.HeadOfficeAcceptance,
			RegionKey:            regionKey,
			ReceivedAt:           snap.ReceivedAt,
			CompletedAt:          snap.CompletedAt,
			Billable:             snap.Billable,
			Raw:                  snap.Raw,
		}
		if _, err := s.facts.Insert(ctx, record); err != nil {
			return outcomeUnchanged, fmt.Errorf("insert %s: %w", snap.SONum, err)
		}
		return outcomeCreated, nil
	}
	if err != nil {
		return outcomeUnchanged, fmt.Errorf("lookup %s: %w", snap.SONum, err)
	}

	if !snapshotDiffers(existing, snap, regionKey) {
		return outcomeUnchanged, nil
	}
	existing.LifecycleStatus = snap.LifecycleStatus
	existing.FieldAcceptance = snap.FieldAcceptance
	existing.RegionalAcceptance = snap.RegionalAcceptance
	existing.HeadOfficeAcceptance = snap.HeadOfficeAcceptance
	existing.RegionKey = regionKey
	existing.CompletedAt = snap.CompletedAt
	existing.Billable = snap.Billable
	existing.Raw = snap.Raw
	if err := s.facts.Update(ctx, existing); err != nil {
		return outcomeUnchanged, fmt.Errorf("update %s: %w", snap.SONum, err)
	}
	return outcomeUpdated, nil
}

func snapshotDiffers(o orders.ServiceOrder, snap OrderSnapshot, regionKey string) bool {
	if o.LifecycleStatus != snap.LifecycleStatus ||
		o.FieldAcceptance != snap.FieldAcceptance ||
		o.RegionalAcceptance != snap.RegionalAcceptance ||
		o.HeadOfficeAcceptance != snap.HeadOfficeAcceptance ||
		o.RegionKey != regionKey ||
		o.Billable != snap.Billable {
		return true
	}
	switch {
	case o.CompletedAt == nil && snap.CompletedAt == nil:
		return false
	case o.CompletedAt == nil || snap.CompletedAt == nil:
		return true
	default:
		return !o.CompletedAt.Equal(*snap.CompletedAt)
	}
}

// SyncAll sweeps every known region with bounded parallelism. Each touched
// region gets a stats-update job enqueued afterwards; progress, when non-nil,
// is invoked as regions complete.
func (s *Service) SyncAll(ctx context.Context, progress func(done, total int)) (Result, error) {
	if s == nil || s.source == nil || s.facts == nil {
		return Result{}, errors.New("syncer: service not configured")
	}
	run := Result{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}

	regions, err := s.facts.RegionKeys(ctx)
	if err != nil {
		return run, fmt.Errorf("syncer: list regions: %w", err)
	}

	var mu sync.Mutex
	done := 0
	g, gctx := errgroup.WithContext(ctx)
	limit := s.RegionParallelism
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, region := range regions {
		g.Go(func() error {
			result := s.SyncRegion(gctx, region)
			mu.Lock()
			run.Regions = append(run.Regions, result)
			done++
			d := done
			mu.Unlock()
			if progress != nil {
				progress(d, len(regions))
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(run.Regions, func(i, j int) bool { return run.Regions[i].RegionKey < run.Regions[j].RegionKey })
	run.FinishedAt = time.Now().UTC()

	if s.enqueuer != nil {
		for _, result := range run.Regions {
			if !result.Touched() {
				continue
			}
			if err := s.enqueuer.EnqueueStatsUpdate(ctx, result.RegionKey); err != nil {
				s.log().Warn("enqueue stats update",
					slog.String("region", result.RegionKey), slog.Any("error", err))
			}
		}
	}

	created, updated, failed := run.Totals()
	s.log().Info("completed global sync",
		slog.String("run_id", run.RunID),
		slog.Int("regions", len(run.Regions)),
		slog.Int("created", created),
		slog.Int("updated", updated),
		slog.Int("failed", failed))
	return run, nil
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
