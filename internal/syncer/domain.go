package syncer

import (
	"fmt"
	"time"

	"github.com/meridian-fsm/meridian/internal/orders"
	"github.com/meridian-fsm/meridian/internal/shared"
)

// OrderSnapshot is one upstream order state. Only the known mutable subset is
// interpreted; Raw carries the full upstream payload for audit.
type OrderSnapshot struct {
	SONum                string
	LifecycleStatus      orders.LifecycleStatus
	FieldAcceptance      orders.AcceptanceStatus
	RegionalAcceptance   orders.AcceptanceStatus
	HeadOfficeAcceptance orders.AcceptanceStatus
	ReceivedAt           time.Time
	CompletedAt          *time.Time
	Billable             bool
	Raw                  []byte
}

// Validate rejects snapshots the core cannot safely upsert.
func (s OrderSnapshot) Validate() error {
	if s.SONum == "" {
		return fmt.Errorf("%w: missing so_num", shared.ErrUpstreamSnapshot)
	}
	if !orders.ValidStatus(s.LifecycleStatus) {
		return fmt.Errorf("%w: so %s: unknown status %q", shared.ErrUpstreamSnapshot, s.SONum, s.LifecycleStatus)
	}
	return nil
}

// RegionResult summarises one region's sweep.
type RegionResult struct {
	RegionKey string `json:"region_key"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// Touched reports whether the region's fact records changed.
func (r RegionResult) Touched() bool {
	return r.Created > 0 || r.Updated > 0
}

// Result summarises a full sync run.
type Result struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Regions    []RegionResult `json:"regions"`
}

// Totals sums the per-region counts.
func (r Result) Totals() (created, updated, failed int) {
	for _, region := range r.Regions {
		created += region.Created
		updated += region.Updated
		failed += region.Failed
	}
	return created, updated, failed
}
