package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-fsm/meridian/internal/platform/db"
	"github.com/meridian-fsm/meridian/internal/shared"
)

// Repository provides PostgreSQL backed persistence for balance sheets and
// the three movement sources.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanTotals(rows pgx.Rows) (map[int64]decimal.Decimal, error) {
	defer rows.Close()
	totals := map[int64]decimal.Decimal{}
	for rows.Next() {
		var itemID int64
		var qty string
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("balance: parse quantity %q: %w", qty, err)
		}
		totals[itemID] = d
	}
	return totals, rows.Err()
}

// IssuedTotals sums issued quantities per item for the key and interval.
func (r *Repository) IssuedTotals(ctx context.Context, contractorID, storeID int64, start, end time.Time) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, SUM(quantity)::text FROM material_issues
		WHERE contractor_id=$1 AND store_id=$2 AND issue_date >= $3 AND issue_date < $4
		GROUP BY item_id`, contractorID, storeID, start, end)
	if err != nil {
		return nil, fmt.Errorf("balance: issued totals: %w", err)
	}
	return scanTotals(rows)
}

// ReturnedTotals sums accepted return quantities per item. Returns that never
// reached ACCEPTED do not count.
func (r *Repository) ReturnedTotals(ctx context.Context, contractorID, storeID int64, start, end time.Time) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, SUM(quantity)::text FROM material_returns
		WHERE contractor_id=$1 AND store_id=$2 AND status=$3 AND accepted_at >= $4 AND accepted_at < $5
		GROUP BY item_id`, contractorID, storeID, ReturnAccepted, start, end)
	if err != nil {
		return nil, fmt.Errorf("balance: returned totals: %w", err)
	}
	return scanTotals(rows)
}

// UsageTotals sums usage quantities per item, split by tag, for usages tied to
// service orders completed inside the interval.
func (r *Repository) UsageTotals(ctx context.Context, contractorID, storeID int64, start, end time.Time) (used, wastage map[int64]decimal.Decimal, err error) {
	rows, err := r.pool.Query(ctx, `SELECT u.item_id, u.usage_tag, SUM(u.quantity)::text
		FROM material_usages u
		JOIN service_orders o ON o.id = u.service_order_id
		WHERE u.contractor_id=$1 AND u.store_id=$2
		  AND o.lifecycle_status=$3 AND o.completed_at >= $4 AND o.completed_at < $5
		GROUP BY u.item_id, u.usage_tag`, contractorID, storeID, "COMPLETED", start, end)
	if err != nil {
		return nil, nil, fmt.Errorf("balance: usage totals: %w", err)
	}
	defer rows.Close()
	used = map[int64]decimal.Decimal{}
	wastage = map[int64]decimal.Decimal{}
	for rows.Next() {
		var itemID int64
		var tag UsageTag
		var qty string
		if err := rows.Scan(&itemID, &tag, &qty); err != nil {
			return nil, nil, err
		}
		d, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, nil, fmt.Errorf("balance: parse quantity %q: %w", qty, err)
		}
		switch tag {
		case UsageWastage:
			wastage[itemID] = d
		default:
			used[itemID] = d
		}
	}
	return used, wastage, rows.Err()
}

// GetSheet fetches the sheet header and its line items for the unique key.
func (r *Repository) GetSheet(ctx context.Context, contractorID, storeID int64, month string) (Sheet, []LineItem, error) {
	var s Sheet
	err := r.pool.QueryRow(ctx, `SELECT id, contractor_id, store_id, month, status, generated_at
		FROM balance_sheets WHERE contractor_id=$1 AND store_id=$2 AND month=$3`,
		contractorID, storeID, month).
		Scan(&s.ID, &s.ContractorID, &s.StoreID, &s.Month, &s.Status, &s.GeneratedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sheet{}, nil, shared.ErrNotFound
		}
		return Sheet{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT item_id, issued::text, returned::text, used::text, wastage::text, balance::text
		FROM balance_line_items WHERE sheet_id=$1 ORDER BY item_id`, s.ID)
	if err != nil {
		return Sheet{}, nil, err
	}
	defer rows.Close()
	var items []LineItem
	for rows.Next() {
		var li LineItem
		var issued, returned, used, wastage, bal string
		if err := rows.Scan(&li.ItemID, &issued, &returned, &used, &wastage, &bal); err != nil {
			return Sheet{}, nil, err
		}
		if li.Issued, err = decimal.NewFromString(issued); err != nil {
			return Sheet{}, nil, err
		}
		if li.Returned, err = decimal.NewFromString(returned); err != nil {
			return Sheet{}, nil, err
		}
		if li.Used, err = decimal.NewFromString(used); err != nil {
			return Sheet{}, nil, err
		}
		if li.Wastage, err = decimal.NewFromString(wastage); err != nil {
			return Sheet{}, nil, err
		}
		if li.Balance, err = decimal.NewFromString(bal); err != nil {
			return Sheet{}, nil, err
		}
		items = append(items, li)
	}
	return s, items, rows.Err()
}

// ReplaceSheet upserts the sheet header and swaps its line items wholesale in
// one repeatable-read transaction: readers never observe a half-replaced set,
// and regeneration replaces rather than accumulates.
func (r *Repository) ReplaceSheet(ctx context.Context, sheet Sheet, items []LineItem) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var sheetID int64
		err := tx.QueryRow(ctx, `INSERT INTO balance_sheets
			(contractor_id, store_id, month, status, generated_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (contractor_id, store_id, month) DO UPDATE SET
				status = EXCLUDED.status,
				generated_at = EXCLUDED.generated_at
			RETURNING id`,
			sheet.ContractorID, sheet.StoreID, sheet.Month, sheet.Status, sheet.GeneratedAt).Scan(&sheetID)
		if err != nil {
			return fmt.Errorf("balance: upsert sheet: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM balance_line_items WHERE sheet_id=$1`, sheetID); err != nil {
			return fmt.Errorf("balance: delete line items: %w", err)
		}
		for _, li := range items {
			if _, err := tx.Exec(ctx, `INSERT INTO balance_line_items
				(sheet_id, item_id, issued, returned, used, wastage, balance)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				sheetID, li.ItemID, li.Issued, li.Returned, li.Used, li.Wastage, li.Balance); err != nil {
				return fmt.Errorf("balance: insert line item %d: %w", li.ItemID, err)
			}
		}
		return nil
	})
}
