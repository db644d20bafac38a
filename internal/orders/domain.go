package orders

import (
	"errors"
	"time"
)

// LifecycleStatus is the authoritative lifecycle field of a service order.
type LifecycleStatus string

const (
	StatusPending             LifecycleStatus = "PENDING"
	StatusInProgress          LifecycleStatus = "IN_PROGRESS"
	StatusCompleted           LifecycleStatus = "COMPLETED"
	StatusReturned            LifecycleStatus = "RETURNED"
	StatusProvisionallyClosed LifecycleStatus = "PROVISIONALLY_CLOSED"
)

// AcceptanceStatus tracks one tier of the three-level acceptance chain.
type AcceptanceStatus string

const (
	AcceptancePending  AcceptanceStatus = "PENDING"
	AcceptancePassed   AcceptanceStatus = "PASSED"
	AcceptanceRejected AcceptanceStatus = "REJECTED"
)

// ErrUnknownStatus indicates a lifecycle status outside the known set.
var ErrUnknownStatus = errors.New("orders: unknown lifecycle status")

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s LifecycleStatus) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusReturned, StatusProvisionallyClosed:
		return true
	}
	return false
}

// ServiceOrder is the canonical fact record. Raw preserves the upstream
// snapshot payload for audit; core logic never interprets it.
type ServiceOrder struct {
	ID                   int64
	SONum                string
	LifecycleStatus      LifecycleStatus
	FieldAcceptance      AcceptanceStatus
	RegionalAcceptance   AcceptanceStatus
	HeadOfficeAcceptance AcceptanceStatus
	RegionKey            string
	ReceivedAt           time.Time
	CompletedAt          *time.Time
	Billable             bool
	Raw                  []byte
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Normalize enforces the status/completion-date co-invariant on a record
// before it is written: CompletedAt is non-nil exactly when the lifecycle
// status is COMPLETED.
func (o *ServiceOrder) Normalize(now time.Time) {
	if o == nil {
		return
	}
	if o.LifecycleStatus != StatusCompleted {
		o.CompletedAt = nil
		return
	}
	if o.CompletedAt == nil {
		t := now
		o.CompletedAt = &t
	}
}

// Completed reports whether the record satisfies the completed side of the
// co-invariant.
func (o *ServiceOrder) Completed() bool {
	return o != nil && o.LifecycleStatus == StatusCompleted && o.CompletedAt != nil
}
