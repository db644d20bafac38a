package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunOnceExecutesTask(t *testing.T) {
	var runs atomic.Int32
	r := NewRunner("test", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, nil)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("expected 1 run, got %d", runs.Load())
	}
}

func TestRunOnceSkipsOverlappingRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce sync.Once
	r := NewRunner("test", time.Hour, func(ctx context.Context) error {
		startedOnce.Do(func() { close(started) })
		<-release
		return nil
	}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- r.RunOnce(context.Background()) }()
	<-started

	if err := r.RunOnce(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first run error = %v", err)
	}
	// Once idle the runner accepts work again.
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() after idle error = %v", err)
	}
}

func TestStartStopTicksTask(t *testing.T) {
	var runs atomic.Int32
	r := NewRunner("test", 5*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, nil)

	r.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	if runs.Load() < 2 {
		t.Fatalf("expected at least 2 ticked runs, got %d", runs.Load())
	}
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Fatalf("runner kept ticking after Stop()")
	}
}
