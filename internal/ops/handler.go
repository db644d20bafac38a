// Package ops exposes the operational trigger endpoints. It is thin glue:
// every route either enqueues a job or delegates to an engine.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/meridian-fsm/meridian/internal/balance"
	"github.com/meridian-fsm/meridian/internal/shared"
	"github.com/meridian-fsm/meridian/jobs"
)

// Queue submits and inspects background jobs.
type Queue interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (jobs.JobRef, error)
	Status(ctx context.Context, queue, id string) (jobs.JobStatus, error)
}

// SheetGenerator reconciles a balance sheet synchronously.
type SheetGenerator interface {
	Generate(ctx context.Context, contractorID, storeID int64, month string) (balance.Sheet, []balance.LineItem, error)
}

// Handler carries the ops route dependencies.
type Handler struct {
	queue    Queue
	sheets   SheetGenerator
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the ops handler.
func NewHandler(queue Queue, sheets SheetGenerator, logger *slog.Logger) *Handler {
	return &Handler{
		queue:    queue,
		sheets:   sheets,
		logger:   logger,
		validate: validator.New(),
	}
}

// MountRoutes attaches ops routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Post("/ops/sync", h.triggerGlobalSync)
		r.Post("/ops/stats/recalculate", h.triggerStatsRecalculate)
		r.Post("/ops/hygiene", h.triggerHygiene)
		r.Post("/ops/drift", h.triggerDriftCorrection)
		r.Post("/ops/balance-sheets", h.generateBalanceSheet)
		r.Get("/ops/jobs/{queue}/{id}", h.jobStatus)
	})
}

func (h *Handler) triggerGlobalSync(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, jobs.NewSyncGlobalTask())
}

type statsRecalculateRequest struct {
	Scope string `json:"scope" validate:"required"`
}

func (h *Handler) triggerStatsRecalculate(w http.ResponseWriter, r *http.Request) {
	var req statsRecalculateRequest
	if !h.decode(w, r, &req) {
		return
	}
	task, err := jobs.NewStatsUpdateTask(req.Scope)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.enqueue(w, r, task)
}

func (h *Handler) triggerHygiene(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, jobs.NewOrdersHygieneTask())
}

func (h *Handler) triggerDriftCorrection(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, jobs.NewStatsDriftTask())
}

type balanceSheetRequest struct {
	ContractorID int64  `json:"contractor_id" validate:"required,gt=0"`
	StoreID      int64  `json:"store_id" validate:"required,gt=0"`
	Month        string `json:"month" validate:"required"`
}

type balanceSheetResponse struct {
	Sheet balance.Sheet      `json:"sheet"`
	Items []balance.LineItem `json:"items"`
}

func (h *Handler) generateBalanceSheet(w http.ResponseWriter, r *http.Request) {
	var req balanceSheetRequest
	if !h.decode(w, r, &req) {
		return
	}
	sheet, items, err := h.sheets.Generate(r.Context(), req.ContractorID, req.StoreID, req.Month)
	if err != nil {
		switch {
		case errors.Is(err, balance.ErrInvalidMonth):
			h.writeError(w, http.StatusUnprocessableEntity, err)
		case errors.Is(err, balance.ErrSheetFinalized):
			h.writeError(w, http.StatusConflict, err)
		default:
			h.log().Error("generate balance sheet", slog.Any("error", err))
			h.writeError(w, http.StatusInternalServerError, errors.New("balance sheet generation failed"))
		}
		return
	}
	h.writeJSON(w, http.StatusOK, balanceSheetResponse{Sheet: sheet, Items: items})
}

func (h *Handler) jobStatus(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	id := chi.URLParam(r, "id")
	status, err := h.queue.Status(r.Context(), queue, id)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrJobNotFound):
			h.writeError(w, http.StatusNotFound, err)
		case errors.Is(err, shared.ErrQueueUnavailable):
			h.writeError(w, http.StatusServiceUnavailable, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, task *asynq.Task) {
	ref, err := h.queue.Enqueue(r.Context(), task)
	if err != nil {
		if errors.Is(err, shared.ErrQueueUnavailable) {
			h.writeError(w, http.StatusServiceUnavailable, shared.ErrQueueUnavailable)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, ref)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log().Warn("write response", slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, err error) {
	h.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (h *Handler) log() *slog.Logger {
	if h != nil && h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
