package stats

import "time"

// RegionCounters is the denormalized per-region aggregate row read by
// dashboards. Pending counts everything not yet completed or closed out
// (PENDING and IN_PROGRESS lifecycles).
type RegionCounters struct {
	RegionKey           string    `json:"region_key"`
	Pending             int64     `json:"pending"`
	Completed           int64     `json:"completed"`
	Returned            int64     `json:"returned"`
	ProvisionallyClosed int64     `json:"provisionally_closed"`
	AcceptancePassed    int64     `json:"acceptance_passed"`
	AcceptanceRejected  int64     `json:"acceptance_rejected"`
	Billable            int64     `json:"billable"`
	ComputedAt          time.Time `json:"computed_at"`
}

// Equal compares counter values, ignoring the computation timestamp.
func (c RegionCounters) Equal(other RegionCounters) bool {
	return c.RegionKey == other.RegionKey &&
		c.Pending == other.Pending &&
		c.Completed == other.Completed &&
		c.Returned == other.Returned &&
		c.ProvisionallyClosed == other.ProvisionallyClosed &&
		c.AcceptancePassed == other.AcceptancePassed &&
		c.AcceptanceRejected == other.AcceptanceRejected &&
		c.Billable == other.Billable
}
