package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meridian-fsm/meridian/internal/orders"
	"github.com/meridian-fsm/meridian/internal/shared"
)

// fakeBackend implements FactSource, CounterStore and orders.HygieneRepository
// over an in-memory record slice so engine and hygiene can be exercised
// together without Postgres.
type fakeBackend struct {
	mu         sync.Mutex
	records    []orders.ServiceOrder
	counters   map[string]RegionCounters
	failRegion string
}

func newFakeBackend(records ...orders.ServiceOrder) *fakeBackend {
	return &fakeBackend{records: records, counters: map[string]RegionCounters{}}
}

func (f *fakeBackend) RegionKeys(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var keys []string
	for _, o := range f.records {
		if !seen[o.RegionKey] {
			seen[o.RegionKey] = true
			keys = append(keys, o.RegionKey)
		}
	}
	return keys, nil
}

func (f *fakeBackend) CountLifecycle(ctx context.Context, regionKey string, statuses ...orders.LifecycleStatus) (int64, error) {
	if regionKey == f.failRegion {
		return 0, errors.New("region query failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, o := range f.records {
		if o.RegionKey != regionKey {
			continue
		}
		for _, s := range statuses {
			if o.LifecycleStatus == s {
				n++
				break
			}
		}
	}
	return n, nil
}

func (f *fakeBackend) CountHeadOfficePassed(ctx context.Context, regionKey string) (int64, error) {
	if regionKey == f.failRegion {
		return 0, errors.New("region query failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, o := range f.records {
		if o.RegionKey == regionKey && o.HeadOfficeAcceptance == orders.AcceptancePassed {
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) CountAnyRejected(ctx context.Context, regionKey string) (int64, error) {
	if regionKey == f.failRegion {
		return 0, errors.New("region query failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, o := range f.records {
		if o.RegionKey != regionKey {
			continue
		}
		if o.FieldAcceptance == orders.AcceptanceRejected ||
			o.RegionalAcceptance == orders.AcceptanceRejected ||
			o.HeadOfficeAcceptance == orders.AcceptanceRejected {
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) CountBillable(ctx context.Context, regionKey string) (int64, error) {
	if regionKey == f.failRegion {
		return 0, errors.New("region query failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, o := range f.records {
		if o.RegionKey == regionKey && o.Billable {
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) Get(ctx context.Context, regionKey string) (RegionCounters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.counters[regionKey]
	if !ok {
		return RegionCounters{}, shared.ErrNotFound
	}
	return c, nil
}

func (f *fakeBackend) Upsert(ctx context.Context, c RegionCounters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[c.RegionKey] = c
	return nil
}

func (f *fakeBackend) DuplicateSONums(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int{}
	for _, o := range f.records {
		counts[o.SONum]++
	}
	var nums []string
	for num, n := range counts {
		if n > 1 {
			nums = append(nums, num)
		}
	}
	return nums, nil
}

func (f *fakeBackend) CollapseDuplicate(ctx context.Context, soNum string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keep := -1
	for i, o := range f.records {
		if o.SONum != soNum {
			continue
		}
		if keep < 0 || o.CreatedAt.After(f.records[keep].CreatedAt) {
			keep = i
		}
	}
	var kept []orders.ServiceOrder
	var removed int64
	for i, o := range f.records {
		if o.SONum == soNum && i != keep {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	f.records = kept
	return removed, nil
}

func (f *fakeBackend) ClearCompletionDates(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i := range f.records {
		if f.records[i].CompletedAt != nil && f.records[i].LifecycleStatus != orders.StatusCompleted {
			f.records[i].CompletedAt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) RegressUndatedCompleted(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i := range f.records {
		if f.records[i].CompletedAt == nil && f.records[i].LifecycleStatus == orders.StatusCompleted {
			f.records[i].LifecycleStatus = orders.StatusInProgress
			n++
		}
	}
	return n, nil
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func record(soNum, region string, status orders.LifecycleStatus, createdDay int) orders.ServiceOrder {
	created := time.Date(2026, 1, createdDay, 0, 0, 0, 0, time.UTC)
	o := orders.ServiceOrder{SONum: soNum, RegionKey: region, LifecycleStatus: status, CreatedAt: created}
	if status == orders.StatusCompleted {
		done := created.Add(24 * time.Hour)
		o.CompletedAt = &done
	}
	return o
}

func TestSyncOneZeroActivityRegion(t *testing.T) {
	backend := newFakeBackend()
	engine := NewEngine(backend, backend, nil)
	engine.WithClock(fixedClock())

	got, err := engine.SyncOne(context.Background(), "R9")
	if err != nil {
		t.Fatalf("SyncOne() error = %v", err)
	}
	want := RegionCounters{RegionKey: "R9", ComputedAt: fixedClock()()}
	if !got.Equal(want) {
		t.Fatalf("expected all-zero counters, got %+v", got)
	}
	if _, err := backend.Get(context.Background(), "R9"); err != nil {
		t.Fatalf("expected a stored row for zero-activity region, got %v", err)
	}
}

func TestSyncOneIdempotent(t *testing.T) {
	backend := newFakeBackend(
		record("SO-1", "R1", orders.StatusCompleted, 1),
		record("SO-2", "R1", orders.StatusInProgress, 2),
	)
	engine := NewEngine(backend, backend, nil)
	engine.WithClock(fixedClock())

	first, err := engine.SyncOne(context.Background(), "R1")
	if err != nil {
		t.Fatalf("first SyncOne() error = %v", err)
	}
	second, err := engine.SyncOne(context.Background(), "R1")
	if err != nil {
		t.Fatalf("second SyncOne() error = %v", err)
	}
	if first != second {
		t.Fatalf("expected identical rows, got %+v then %+v", first, second)
	}
}

func TestHygieneThenSyncOneScenario(t *testing.T) {
	// Region R1: 10 records, 6 COMPLETED (two sharing SO-DUP), 3 IN_PROGRESS,
	// 1 RETURNED. After hygiene 9 remain and counters read 5/3/1.
	backend := newFakeBackend(
		record("SO-DUP", "R1", orders.StatusCompleted, 1),
		record("SO-DUP", "R1", orders.StatusCompleted, 5),
		record("SO-2", "R1", orders.StatusCompleted, 2),
		record("SO-3", "R1", orders.StatusCompleted, 2),
		record("SO-4", "R1", orders.StatusCompleted, 3),
		record("SO-5", "R1", orders.StatusCompleted, 3),
		record("SO-6", "R1", orders.StatusInProgress, 4),
		record("SO-7", "R1", orders.StatusInProgress, 4),
		record("SO-8", "R1", orders.StatusInProgress, 4),
		record("SO-9", "R1", orders.StatusReturned, 4),
	)
	hygiene := orders.NewHygiene(backend, nil)
	summary, err := hygiene.Run(context.Background())
	if err != nil {
		t.Fatalf("hygiene Run() error = %v", err)
	}
	if summary.RecordsRemoved != 1 {
		t.Fatalf("expected 1 record removed, got %d", summary.RecordsRemoved)
	}
	if len(backend.records) != 9 {
		t.Fatalf("expected 9 records after hygiene, got %d", len(backend.records))
	}

	engine := NewEngine(backend, backend, nil)
	engine.WithClock(fixedClock())
	got, err := engine.SyncOne(context.Background(), "R1")
	if err != nil {
		t.Fatalf("SyncOne() error = %v", err)
	}
	if got.Completed != 5 || got.Pending != 3 || got.Returned != 1 {
		t.Fatalf("expected completed=5 pending=3 returned=1, got %+v", got)
	}
}

func TestDriftCorrectionHealsDivergence(t *testing.T) {
	backend := newFakeBackend(
		record("SO-1", "R1", orders.StatusCompleted, 1),
		record("SO-2", "R2", orders.StatusReturned, 1),
	)
	engine := NewEngine(backend, backend, nil)
	engine.WithClock(fixedClock())

	// R1 drifted, R2 has no row at all. Both must heal.
	backend.counters["R1"] = RegionCounters{RegionKey: "R1", Completed: 42, Pending: 7}

	corrected, err := engine.DriftCorrection(context.Background())
	if err != nil {
		t.Fatalf("DriftCorrection() error = %v", err)
	}
	if len(corrected) != 2 || corrected[0] != "R1" || corrected[1] != "R2" {
		t.Fatalf("expected [R1 R2] corrected, got %v", corrected)
	}
	for _, region := range []string{"R1", "R2"} {
		fresh, err := engine.Compute(context.Background(), region)
		if err != nil {
			t.Fatalf("Compute(%s) error = %v", region, err)
		}
		stored, err := backend.Get(context.Background(), region)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", region, err)
		}
		if !stored.Equal(fresh) {
			t.Fatalf("region %s still diverged: stored %+v fresh %+v", region, stored, fresh)
		}
	}

	// At quiescence a second pass corrects nothing.
	corrected, err = engine.DriftCorrection(context.Background())
	if err != nil {
		t.Fatalf("second DriftCorrection() error = %v", err)
	}
	if len(corrected) != 0 {
		t.Fatalf("expected no corrections at quiescence, got %v", corrected)
	}
}

func TestSyncOneOverwritesWholeRow(t *testing.T) {
	backend := newFakeBackend(record("SO-1", "R1", orders.StatusCompleted, 1))
	engine := NewEngine(backend, backend, nil)
	engine.WithClock(fixedClock())

	// A stale row written by an earlier computation; no field of it may
	// survive the next sync as a partial merge.
	backend.counters["R1"] = RegionCounters{RegionKey: "R1", Pending: 99, Returned: 99, Billable: 99}

	got, err := engine.SyncOne(context.Background(), "R1")
	if err != nil {
		t.Fatalf("SyncOne() error = %v", err)
	}
	stored, _ := backend.Get(context.Background(), "R1")
	if !stored.Equal(got) {
		t.Fatalf("stored row is not the last computation: %+v vs %+v", stored, got)
	}
	if stored.Pending != 0 || stored.Returned != 0 || stored.Billable != 0 {
		t.Fatalf("stale fields leaked through upsert: %+v", stored)
	}
}

func TestSyncAllContinuesPastRegionFailure(t *testing.T) {
	backend := newFakeBackend(
		record("SO-1", "R1", orders.StatusCompleted, 1),
		record("SO-2", "R2", orders.StatusPending, 1),
		record("SO-3", "R3", orders.StatusPending, 1),
	)
	backend.failRegion = "R2"
	engine := NewEngine(backend, backend, nil)

	synced, err := engine.SyncAll(context.Background())
	if err == nil {
		t.Fatalf("expected joined error from failing region")
	}
	if synced != 2 {
		t.Fatalf("expected 2 regions synced despite failure, got %d", synced)
	}
	if _, err := backend.Get(context.Background(), "R3"); err != nil {
		t.Fatalf("expected R3 synced after R2 failure, got %v", err)
	}
}
