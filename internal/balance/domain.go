package balance

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SheetStatus is the lifecycle of a balance sheet.
type SheetStatus string

const (
	SheetDraft     SheetStatus = "DRAFT"
	SheetGenerated SheetStatus = "GENERATED"
	SheetFinalized SheetStatus = "FINALIZED"
)

// UsageTag splits material usage between consumed and wasted quantities.
type UsageTag string

const (
	UsageUsed    UsageTag = "USED"
	UsageWastage UsageTag = "WASTAGE"
)

// ReturnAccepted is the only return status that counts toward a balance.
const ReturnAccepted = "ACCEPTED"

var (
	// ErrSheetFinalized indicates regeneration was requested for a finalized sheet.
	ErrSheetFinalized = errors.New("balance: sheet finalized")
	// ErrInvalidMonth indicates a month outside YYYY-MM.
	ErrInvalidMonth = errors.New("balance: invalid month")
)

// Sheet is the per (contractor, store, month) reconciliation snapshot header.
type Sheet struct {
	ID           int64       `json:"id"`
	ContractorID int64       `json:"contractor_id"`
	StoreID      int64       `json:"store_id"`
	Month        string      `json:"month"`
	Status       SheetStatus `json:"status"`
	GeneratedAt  time.Time   `json:"generated_at"`
}

// LineItem reconciles one inventory item within a sheet.
type LineItem struct {
	ItemID   int64           `json:"item_id"`
	Issued   decimal.Decimal `json:"issued"`
	Returned decimal.Decimal `json:"returned"`
	Used     decimal.Decimal `json:"used"`
	Wastage  decimal.Decimal `json:"wastage"`
	Balance  decimal.Decimal `json:"balance"`
}

// ComputeBalance derives the closing balance from the movement quantities.
func (li *LineItem) ComputeBalance() {
	li.Balance = li.Issued.Sub(li.Returned).Sub(li.Used).Sub(li.Wastage)
}

// MonthRange resolves a YYYY-MM month to the half-open interval [start, end)
// in the given location.
func MonthRange(month string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation("2006-01", month, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s", ErrInvalidMonth, month)
	}
	return start, start.AddDate(0, 1, 0), nil
}
