package orders

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

// fakeHygieneRepo keeps records in memory and implements the repair queries
// the same way the SQL does.
type fakeHygieneRepo struct {
	records []ServiceOrder
	failOn  string
}

func (f *fakeHygieneRepo) DuplicateSONums(ctx context.Context) ([]string, error) {
	if f.failOn == "duplicates" {
		return nil, errors.New("backend down")
	}
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
	sort.Strings(nums)
	return nums, nil
}

func (f *fakeHygieneRepo) CollapseDuplicate(ctx context.Context, soNum string) (int64, error) {
	keep := -1
	for i, o := range f.records {
		if o.SONum != soNum {
			continue
		}
		if keep < 0 || o.CreatedAt.After(f.records[keep].CreatedAt) {
			keep = i
		}
	}
	var kept []ServiceOrder
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

func (f *fakeHygieneRepo) ClearCompletionDates(ctx context.Context) (int64, error) {
	var n int64
	for i := range f.records {
		if f.records[i].CompletedAt != nil && f.records[i].LifecycleStatus != StatusCompleted {
			f.records[i].CompletedAt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeHygieneRepo) RegressUndatedCompleted(ctx context.Context) (int64, error) {
	var n int64
	for i := range f.records {
		if f.records[i].CompletedAt == nil && f.records[i].LifecycleStatus == StatusCompleted {
			f.records[i].LifecycleStatus = StatusInProgress
			n++
		}
	}
	return n, nil
}

func ts(day int) time.Time {
	return time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC)
}

func TestHygieneCollapsesDuplicatesKeepingLatest(t *testing.T) {
	repo := &fakeHygieneRepo{records: []ServiceOrder{
		{ID: 1, SONum: "SO-100", CreatedAt: ts(1)},
		{ID: 2, SONum: "SO-100", CreatedAt: ts(3)},
		{ID: 3, SONum: "SO-100", CreatedAt: ts(2)},
		{ID: 4, SONum: "SO-200", CreatedAt: ts(1)},
	}}
	h := NewHygiene(repo, nil)

	summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.DuplicateKeys != 1 || summary.RecordsRemoved != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	var survivors []int64
	for _, o := range repo.records {
		if o.SONum == "SO-100" {
			survivors = append(survivors, o.ID)
		}
	}
	if len(survivors) != 1 || survivors[0] != 2 {
		t.Fatalf("expected latest-created record 2 to survive, got %v", survivors)
	}
}

func TestHygieneRestoresCoInvariant(t *testing.T) {
	done := ts(5)
	repo := &fakeHygieneRepo{records: []ServiceOrder{
		{ID: 1, SONum: "SO-1", LifecycleStatus: StatusInProgress, CompletedAt: &done},
		{ID: 2, SONum: "SO-2", LifecycleStatus: StatusReturned, CompletedAt: &done},
		{ID: 3, SONum: "SO-3", LifecycleStatus: StatusCompleted},
		{ID: 4, SONum: "SO-4", LifecycleStatus: StatusCompleted, CompletedAt: &done},
	}}
	h := NewHygiene(repo, nil)

	summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.DatesCleared != 2 {
		t.Fatalf("expected 2 dates cleared, got %d", summary.DatesCleared)
	}
	if summary.StatusesRegressed != 1 {
		t.Fatalf("expected 1 status regressed, got %d", summary.StatusesRegressed)
	}
	for _, o := range repo.records {
		hasDate := o.CompletedAt != nil
		isCompleted := o.LifecycleStatus == StatusCompleted
		if hasDate != isCompleted {
			t.Fatalf("record %d violates co-invariant after repair: %+v", o.ID, o)
		}
	}
}

func TestHygieneSurfacesRepositoryFailure(t *testing.T) {
	repo := &fakeHygieneRepo{failOn: "duplicates"}
	h := NewHygiene(repo, nil)
	if _, err := h.Run(context.Background()); err == nil {
		t.Fatalf("expected error when repository is unreachable")
	}
}
