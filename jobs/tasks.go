package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Queue names. Each queue runs on its own server with an independent
// concurrency limit so a slow import can never starve stats maintenance.
const (
	QueueImport = "import"
	QueueSync   = "sync"
	QueueNotify = "notify"
	QueueStats  = "stats"
)

// Task types.
const (
	// TaskStatsUpdate recomputes counters for one region, or all regions
	// when the payload scope is ScopeAll.
	TaskStatsUpdate = "stats:update"
	// TaskStatsDrift runs the scheduled drift-correction backstop.
	TaskStatsDrift = "stats:drift"
	// TaskOrdersHygiene collapses duplicates and repairs status drift.
	TaskOrdersHygiene = "orders:hygiene"
	// TaskSyncGlobal sweeps every region against the external source.
	TaskSyncGlobal = "sync:global"
	// TaskSyncRegion sweeps a single region.
	TaskSyncRegion = "sync:region"
	// TaskBalanceGenerate reconciles one (contractor, store, month) sheet.
	TaskBalanceGenerate = "balance:generate"
	// TaskNotifySend delivers an operator notification.
	TaskNotifySend = "notify:send"
)

// ScopeAll addresses every region in a stats-update payload.
const ScopeAll = "all"

// StatsUpdatePayload scopes a counter recomputation.
type StatsUpdatePayload struct {
	RegionKey string `json:"region_key"`
}

// NewStatsUpdateTask constructs a stats-update task.
func NewStatsUpdateTask(regionKey string) (*asynq.Task, error) {
	if regionKey == "" {
		regionKey = ScopeAll
	}
	data, err := json.Marshal(StatsUpdatePayload{RegionKey: regionKey})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatsUpdate, data, asynq.Queue(QueueStats)), nil
}

// NewStatsDriftTask constructs a drift-correction task.
func NewStatsDriftTask() *asynq.Task {
	return asynq.NewTask(TaskStatsDrift, nil, asynq.Queue(QueueStats))
}

// NewOrdersHygieneTask constructs a hygiene task.
func NewOrdersHygieneTask() *asynq.Task {
	return asynq.NewTask(TaskOrdersHygiene, nil, asynq.Queue(QueueImport))
}

// NewSyncGlobalTask constructs a global sync task.
func NewSyncGlobalTask() *asynq.Task {
	return asynq.NewTask(TaskSyncGlobal, nil, asynq.Queue(QueueSync))
}

// SyncRegionPayload scopes a sweep to one region.
type SyncRegionPayload struct {
	RegionKey string `json:"region_key"`
}

// NewSyncRegionTask constructs a single-region sync task.
func NewSyncRegionTask(regionKey string) (*asynq.Task, error) {
	data, err := json.Marshal(SyncRegionPayload{RegionKey: regionKey})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncRegion, data, asynq.Queue(QueueSync)), nil
}

// BalanceGeneratePayload identifies the sheet to reconcile.
type BalanceGeneratePayload struct {
	ContractorID int64  `json:"contractor_id"`
	StoreID      int64  `json:"store_id"`
	Month        string `json:"month"`
}

// NewBalanceGenerateTask constructs a balance-sheet generation task.
func NewBalanceGenerateTask(payload BalanceGeneratePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceGenerate, data, asynq.Queue(QueueImport)), nil
}

// NotifySendPayload describes an operator notification.
type NotifySendPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewNotifySendTask constructs a notification task.
func NewNotifySendTask(payload NotifySendPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifySend, data, asynq.Queue(QueueNotify)), nil
}
