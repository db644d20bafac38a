// Package scheduler provides a ticker-driven task runner with an explicit
// single-run entry point, so scheduled logic stays testable without timers.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRunInProgress indicates a run was skipped because one is still going.
var ErrRunInProgress = errors.New("scheduler: run already in progress")

// Runner periodically executes a task. Overlapping runs are skipped rather
// than queued: the tasks it drives are idempotent sweeps where running twice
// concurrently buys nothing.
type Runner struct {
	name   string
	every  time.Duration
	task   func(ctx context.Context) error
	logger *slog.Logger

	inflight atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewRunner constructs a runner.
func NewRunner(name string, every time.Duration, task func(ctx context.Context) error, logger *slog.Logger) *Runner {
	return &Runner{name: name, every: every, task: task, logger: logger}
}

// RunOnce executes the task synchronously. If a run is already in flight it
// returns ErrRunInProgress without executing.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r == nil || r.task == nil {
		return errors.New("scheduler: runner not configured")
	}
	if !r.inflight.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer r.inflight.Store(false)
	return r.task(ctx)
}

// Start begins the ticker loop. It returns immediately; Stop halts the loop
// and waits for an in-flight run to finish.
func (r *Runner) Start(ctx context.Context) {
	if r == nil || r.task == nil || r.every <= 0 {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.every)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := r.RunOnce(runCtx); err != nil && !errors.Is(err, ErrRunInProgress) {
					r.log().Error("scheduled run failed",
						slog.String("task", r.name), slog.Any("error", err))
				}
			}
		}
	}()
}

// Stop halts the ticker loop and blocks until the runner is idle.
func (r *Runner) Stop() {
	if r == nil || r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) log() *slog.Logger {
	if r != nil && r.logger != nil {
		return r.logger
	}
	return slog.Default()
}
