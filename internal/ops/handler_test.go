package ops

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meridian-fsm/meridian/internal/balance"
	"github.com/meridian-fsm/meridian/internal/shared"
	"github.com/meridian-fsm/meridian/jobs"
)

type fakeQueue struct {
	enqueued   []*asynq.Task
	enqueueErr error
	statusErr  error
}

func (f *fakeQueue) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (jobs.JobRef, error) {
	if f.enqueueErr != nil {
		return jobs.JobRef{}, f.enqueueErr
	}
	f.enqueued = append(f.enqueued, task)
	return jobs.JobRef{ID: "job-1", Queue: jobs.QueueStats}, nil
}

func (f *fakeQueue) Status(ctx context.Context, queue, id string) (jobs.JobStatus, error) {
	if f.statusErr != nil {
		return jobs.JobStatus{}, f.statusErr
	}
	return jobs.JobStatus{ID: id, Queue: queue, State: "pending"}, nil
}

type fakeSheetService struct {
	err error
}

func (f *fakeSheetService) Generate(ctx context.Context, contractorID, storeID int64, month string) (balance.Sheet, []balance.LineItem, error) {
	if f.err != nil {
		return balance.Sheet{}, nil, f.err
	}
	return balance.Sheet{ContractorID: contractorID, StoreID: storeID, Month: month, Status: balance.SheetGenerated},
		[]balance.LineItem{{ItemID: 1}}, nil
}

func newTestRouter(queue *fakeQueue, sheets *fakeSheetService) http.Handler {
	r := chi.NewRouter()
	NewHandler(queue, sheets, nil).MountRoutes(r)
	return r
}

func TestTriggerStatsRecalculate(t *testing.T) {
	queue := &fakeQueue{}
	router := newTestRouter(queue, &fakeSheetService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ops/stats/recalculate", strings.NewReader(`{"scope":"R1"}`))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, queue.enqueued, 1)
	require.Equal(t, jobs.TaskStatsUpdate, queue.enqueued[0].Type())
}

func TestTriggerStatsRecalculateRejectsMissingScope(t *testing.T) {
	queue := &fakeQueue{}
	router := newTestRouter(queue, &fakeSheetService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ops/stats/recalculate", strings.NewReader(`{}`))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Empty(t, queue.enqueued)
}

func TestTriggerSyncQueueDown(t *testing.T) {
	queue := &fakeQueue{enqueueErr: shared.ErrQueueUnavailable}
	router := newTestRouter(queue, &fakeSheetService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ops/sync", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGenerateBalanceSheet(t *testing.T) {
	router := newTestRouter(&fakeQueue{}, &fakeSheetService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ops/balance-sheets",
		strings.NewReader(`{"contractor_id":7,"store_id":3,"month":"2026-01"}`))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"GENERATED"`)
}

func TestGenerateBalanceSheetErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{balance.ErrInvalidMonth, http.StatusUnprocessableEntity},
		{balance.ErrSheetFinalized, http.StatusConflict},
	}
	for _, tc := range cases {
		router := newTestRouter(&fakeQueue{}, &fakeSheetService{err: tc.err})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ops/balance-sheets",
			strings.NewReader(`{"contractor_id":7,"store_id":3,"month":"2026-01"}`))
		router.ServeHTTP(rec, req)
		require.Equal(t, tc.code, rec.Code, "error %v", tc.err)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	queue := &fakeQueue{statusErr: shared.ErrJobNotFound}
	router := newTestRouter(queue, &fakeSheetService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ops/jobs/stats/missing", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
