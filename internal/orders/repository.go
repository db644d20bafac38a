package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-fsm/meridian/internal/shared"
)

// Repository provides PostgreSQL backed persistence for service orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, so_num, lifecycle_status, field_acceptance, regional_acceptance,
	head_office_acceptance, region_key, received_at, completed_at, billable, raw, created_at, updated_at`

func scanOrder(row pgx.Row) (ServiceOrder, error) {
	var o ServiceOrder
	err := row.Scan(&o.ID, &o.SONum, &o.LifecycleStatus, &o.FieldAcceptance, &o.RegionalAcceptance,
		&o.HeadOfficeAcceptance, &o.RegionKey, &o.ReceivedAt, &o.CompletedAt, &o.Billable, &o.Raw,
		&o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// GetBySONum returns the most recently created record for a service-order
// number. While duplicates exist the newest one is treated as authoritative.
func (r *Repository) GetBySONum(ctx context.Context, soNum string) (ServiceOrder, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM service_orders
		WHERE so_num=$1 ORDER BY created_at DESC, id DESC LIMIT 1`, soNum)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ServiceOrder{}, shared.ErrNotFound
		}
		return ServiceOrder{}, err
	}
	return o, nil
}

// Insert stores a new record and returns its id.
func (r *Repository) Insert(ctx context.Context, o ServiceOrder) (int64, error) {
	now := time.Now().UTC()
	o.Normalize(now)
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO service_orders
		(so_num, lifecycle_status, field_acceptance, regional_acceptance, head_office_acceptance,
		 region_key, received_at, completed_at, billable, raw, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11) RETURNING id`,
		o.SONum, o.LifecycleStatus, o.FieldAcceptance, o.RegionalAcceptance, o.HeadOfficeAcceptance,
		o.RegionKey, o.ReceivedAt, o.CompletedAt, o.Billable, o.Raw, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("orders: insert %s: %w", o.SONum, err)
	}
	return id, nil
}

// Update overwrites the mutable fields of an existing record.
func (r *Repository) Update(ctx context.Context, o ServiceOrder) error {
	o.Normalize(time.Now().UTC())
	tag, err := r.pool.Exec(ctx, `UPDATE service_orders SET
		lifecycle_status=$2, field_acceptance=$3, regional_acceptance=$4, head_office_acceptance=$5,
		region_key=$6, completed_at=$7, billable=$8, raw=$9, updated_at=now()
		WHERE id=$1`,
		o.ID, o.LifecycleStatus, o.FieldAcceptance, o.RegionalAcceptance, o.HeadOfficeAcceptance,
		o.RegionKey, o.CompletedAt, o.Billable, o.Raw)
	if err != nil {
		return fmt.Errorf("orders: update %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// RegionKeys lists every region that has at least one record.
func (r *Repository) RegionKeys(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT region_key FROM service_orders ORDER BY region_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// CountLifecycle counts records in the region whose lifecycle status is one of statuses.
func (r *Repository) CountLifecycle(ctx context.Context, regionKey string, statuses ...LifecycleStatus) (int64, error) {
	vals := make([]string, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM service_orders
		WHERE region_key=$1 AND lifecycle_status = ANY($2)`, regionKey, vals).Scan(&n)
	return n, err
}

// CountHeadOfficePassed counts records that cleared the final acceptance tier.
func (r *Repository) CountHeadOfficePassed(ctx context.Context, regionKey string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM service_orders
		WHERE region_key=$1 AND head_office_acceptance=$2`, regionKey, AcceptancePassed).Scan(&n)
	return n, err
}

// CountAnyRejected counts records rejected at any acceptance tier.
func (r *Repository) CountAnyRejected(ctx context.Context, regionKey string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM service_orders
		WHERE region_key=$1 AND (field_acceptance=$2 OR regional_acceptance=$2 OR head_office_acceptance=$2)`,
		regionKey, AcceptanceRejected).Scan(&n)
	return n, err
}

// CountBillable counts billable records in the region.
func (r *Repository) CountBillable(ctx context.Context, regionKey string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM service_orders
		WHERE region_key=$1 AND billable`, regionKey).Scan(&n)
	return n, err
}

// DuplicateSONums returns service-order numbers held by more than one record.
func (r *Repository) DuplicateSONums(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT so_num FROM service_orders
		GROUP BY so_num HAVING COUNT(*) > 1 ORDER BY so_num`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var nums []string
	for rows.Next() {
		var num string
		if err := rows.Scan(&num); err != nil {
			return nil, err
		}
		nums = append(nums, num)
	}
	return nums, rows.Err()
}

// CollapseDuplicate deletes every record for soNum except the most recently
// created one and returns the number of rows removed.
func (r *Repository) CollapseDuplicate(ctx context.Context, soNum string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM service_orders WHERE so_num=$1 AND id NOT IN (
		SELECT id FROM service_orders WHERE so_num=$1 ORDER BY created_at DESC, id DESC LIMIT 1)`, soNum)
	if err != nil {
		return 0, fmt.Errorf("orders: collapse %s: %w", soNum, err)
	}
	return tag.RowsAffected(), nil
}

// ClearCompletionDates nulls completed_at on records whose lifecycle status
// says they are not completed. The lifecycle field is authoritative.
func (r *Repository) ClearCompletionDates(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE service_orders
		SET completed_at=NULL, updated_at=now()
		WHERE completed_at IS NOT NULL AND lifecycle_status <> $1`, StatusCompleted)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RegressUndatedCompleted moves COMPLETED records that carry no completion
// date back to IN_PROGRESS. A completion we cannot date never happened.
func (r *Repository) RegressUndatedCompleted(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE service_orders
		SET lifecycle_status=$1, updated_at=now()
		WHERE completed_at IS NULL AND lifecycle_status=$2`, StatusInProgress, StatusCompleted)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
