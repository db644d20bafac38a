package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"

	"github.com/meridian-fsm/meridian/internal/shared"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewClient(ClientConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()},
		MaxRetry:  3,
		Timeout:   time.Minute,
		Retention: time.Hour,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnqueueAndStatus(t *testing.T) {
	client := newTestClient(t)

	task, err := NewStatsUpdateTask("R1")
	if err != nil {
		t.Fatalf("NewStatsUpdateTask() error = %v", err)
	}
	ref, err := client.Enqueue(context.Background(), task)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if ref.Queue != QueueStats {
		t.Fatalf("expected stats queue, got %s", ref.Queue)
	}

	status, err := client.Status(context.Background(), ref.Queue, ref.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Type != TaskStatsUpdate {
		t.Fatalf("unexpected task type %s", status.Type)
	}
	if status.State != "pending" {
		t.Fatalf("expected pending state, got %s", status.State)
	}
	if status.MaxRetry != 3 {
		t.Fatalf("expected max retry 3, got %d", status.MaxRetry)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	client := newTestClient(t)

	// Seed the queue so it exists, then ask for a job it never held.
	task, _ := NewStatsUpdateTask("R1")
	if _, err := client.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := client.Status(context.Background(), QueueStats, "no-such-id"); !errors.Is(err, shared.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := client.Status(context.Background(), "no-such-queue", "x"); !errors.Is(err, shared.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound for unknown queue, got %v", err)
	}
}

func TestCronEntriesInheritJobTimeout(t *testing.T) {
	opts := withTimeout([]asynq.Option{asynq.MaxRetry(3)}, time.Minute)
	var timeouts []time.Duration
	for _, opt := range opts {
		if opt.Type() == asynq.TimeoutOpt {
			timeouts = append(timeouts, opt.Value().(time.Duration))
		}
	}
	if len(timeouts) != 1 || timeouts[0] != time.Minute {
		t.Fatalf("expected one minute timeout appended, got %v", timeouts)
	}
}

func TestCronEntriesKeepExplicitTimeout(t *testing.T) {
	opts := withTimeout([]asynq.Option{asynq.Timeout(5 * time.Second)}, time.Minute)
	var timeouts []time.Duration
	for _, opt := range opts {
		if opt.Type() == asynq.TimeoutOpt {
			timeouts = append(timeouts, opt.Value().(time.Duration))
		}
	}
	if len(timeouts) != 1 || timeouts[0] != 5*time.Second {
		t.Fatalf("expected explicit timeout preserved, got %v", timeouts)
	}
}

func TestEnqueueQueueUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(ClientConfig{RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()}})
	mr.Close()

	task, _ := NewStatsUpdateTask("R1")
	if _, err := client.Enqueue(context.Background(), task); !errors.Is(err, shared.ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}
}

func TestEnqueueStatsUpdateTargetsStatsQueue(t *testing.T) {
	client := newTestClient(t)
	if err := client.EnqueueStatsUpdate(context.Background(), "R7"); err != nil {
		t.Fatalf("EnqueueStatsUpdate() error = %v", err)
	}
	pending, err := client.QueueHealth(QueueStats)
	if err != nil {
		t.Fatalf("QueueHealth() error = %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending stats job, got %d", pending)
	}
}
