package stats

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-fsm/meridian/internal/shared"
)

// CounterRepository provides PostgreSQL backed persistence for the counter store.
type CounterRepository struct {
	pool *pgxpool.Pool
}

// NewCounterRepository constructs a repository.
func NewCounterRepository(pool *pgxpool.Pool) *CounterRepository {
	return &CounterRepository{pool: pool}
}

// Get returns the stored counters for a region, or shared.ErrNotFound.
func (r *CounterRepository) Get(ctx context.Context, regionKey string) (RegionCounters, error) {
	var c RegionCounters
	err := r.pool.QueryRow(ctx, `SELECT region_key, pending, completed, returned,
		provisionally_closed, acceptance_passed, acceptance_rejected, billable, computed_at
		FROM region_stats WHERE region_key=$1`, regionKey).
		Scan(&c.RegionKey, &c.Pending, &c.Completed, &c.Returned, &c.ProvisionallyClosed,
			&c.AcceptancePassed, &c.AcceptanceRejected, &c.Billable, &c.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RegionCounters{}, shared.ErrNotFound
		}
		return RegionCounters{}, err
	}
	return c, nil
}

// Upsert writes the whole counter row in one statement. Partial field updates
// are never issued, so concurrent writers cannot interleave a mixed row.
func (r *CounterRepository) Upsert(ctx context.Context, c RegionCounters) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO region_stats
		(region_key, pending, completed, returned, provisionally_closed,
		 acceptance_passed, acceptance_rejected, billable, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (region_key) DO UPDATE SET
			pending = EXCLUDED.pending,
			completed = EXCLUDED.completed,
			returned = EXCLUDED.returned,
			provisionally_closed = EXCLUDED.provisionally_closed,
			acceptance_passed = EXCLUDED.acceptance_passed,
			acceptance_rejected = EXCLUDED.acceptance_rejected,
			billable = EXCLUDED.billable,
			computed_at = EXCLUDED.computed_at`,
		c.RegionKey, c.Pending, c.Completed, c.Returned, c.ProvisionallyClosed,
		c.AcceptancePassed, c.AcceptanceRejected, c.Billable, c.ComputedAt)
	if err != nil {
		return fmt.Errorf("stats: upsert %s: %w", c.RegionKey, err)
	}
	return nil
}
