package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-fsm/meridian/internal/shared"
)

// Worker runs one Asynq server per queue so every queue keeps an independent
// concurrency limit, plus an optional cron scheduler.
type Worker struct {
	servers   []*asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts asynq.RedisClientOpt
	Logger    *slog.Logger
	// QueueConcurrency maps each queue to its worker-pool size; unknown
	// queues are ignored, missing ones default to 1.
	QueueConcurrency map[string]int
	JobTimeout       time.Duration
	Handlers         []TaskHandler
	Cron             []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskNotifySend, HandleNotifySendTask)
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var servers []*asynq.Server
	for _, queue := range []string{QueueImport, QueueSync, QueueNotify, QueueStats} {
		concurrency := cfg.QueueConcurrency[queue]
		if concurrency <= 0 {
			concurrency = 1
		}
		servers = append(servers, asynq.NewServer(cfg.RedisOpts, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queue: 1},
		}))
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			// Cron tasks bypass Client.Enqueue, so the runtime bound is
			// applied here instead.
			opts := withTimeout(entry.Options, cfg.JobTimeout)
			if _, err := scheduler.Register(entry.Spec, entry.Task, opts...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{servers: servers, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// withTimeout appends a timeout option unless the entry already carries one.
func withTimeout(opts []asynq.Option, timeout time.Duration) []asynq.Option {
	if timeout <= 0 {
		return opts
	}
	for _, opt := range opts {
		if opt.Type() == asynq.TimeoutOpt {
			return opts
		}
	}
	return append(opts, asynq.Timeout(timeout))
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || len(w.servers) == 0 {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, len(w.servers))
	for _, srv := range w.servers {
		go func() {
			errCh <- srv.Run(w.mux)
		}()
	}
	shutdown := func() {
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		for _, srv := range w.servers {
			srv.Shutdown()
		}
	}
	select {
	case <-ctx.Done():
		shutdown()
		return ctx.Err()
	case err := <-errCh:
		shutdown()
		return err
	}
}

// Client submits jobs to the durable queue.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	maxRetry  int
	timeout   time.Duration
	retention time.Duration
}

// ClientConfig tunes enqueue defaults.
type ClientConfig struct {
	RedisOpts asynq.RedisClientOpt
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

// NewClient constructs an Asynq client with an inspector for status lookups.
func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	return &Client{
		client:    asynq.NewClient(cfg.RedisOpts),
		inspector: asynq.NewInspector(cfg.RedisOpts),
		maxRetry:  cfg.MaxRetry,
		timeout:   cfg.Timeout,
		retention: cfg.Retention,
	}
}

// JobRef identifies an enqueued job.
type JobRef struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
}

// Enqueue submits a prepared task with the client's retry, timeout and
// retention defaults. The error wraps shared.ErrQueueUnavailable so callers
// can tell a dropped job from a bad payload.
func (c *Client) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (JobRef, error) {
	base := []asynq.Option{
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
		asynq.Retention(c.retention),
	}
	info, err := c.client.EnqueueContext(ctx, task, append(base, opts...)...)
	if err != nil {
		return JobRef{}, fmt.Errorf("%w: %v", shared.ErrQueueUnavailable, err)
	}
	return JobRef{ID: info.ID, Queue: info.Queue}, nil
}

// EnqueueStatsUpdate schedules counter recomputation for one region. It
// satisfies the sync orchestrator's enqueuer port.
func (c *Client) EnqueueStatsUpdate(ctx context.Context, regionKey string) error {
	task, err := NewStatsUpdateTask(regionKey)
	if err != nil {
		return err
	}
	_, err = c.Enqueue(ctx, task)
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// Progress reports completion of a long-running job.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// JobStatus is the operator-facing view of a queued job.
type JobStatus struct {
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	Type          string          `json:"type"`
	State         string          `json:"state"`
	Retried       int             `json:"retried"`
	MaxRetry      int             `json:"max_retry"`
	Progress      *Progress       `json:"progress,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// Status looks up a job by queue and id. Jobs evicted past retention resolve
// to shared.ErrJobNotFound.
func (c *Client) Status(ctx context.Context, queue, id string) (JobStatus, error) {
	info, err := c.inspector.GetTaskInfo(queue, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return JobStatus{}, shared.ErrJobNotFound
		}
		return JobStatus{}, fmt.Errorf("%w: %v", shared.ErrQueueUnavailable, err)
	}
	status := JobStatus{
		ID:            info.ID,
		Queue:         info.Queue,
		Type:          info.Type,
		State:         info.State.String(),
		Retried:       info.Retried,
		MaxRetry:      info.MaxRetry,
		FailureReason: info.LastErr,
	}
	if len(info.Result) > 0 {
		var p Progress
		if err := json.Unmarshal(info.Result, &p); err == nil && p.Total > 0 {
			status.Progress = &p
		}
		status.Result = json.RawMessage(info.Result)
	}
	return status, nil
}

// QueueHealth reports pending depth for one queue.
func (c *Client) QueueHealth(queue string) (pending int, err error) {
	info, err := c.inspector.GetQueueInfo(queue)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", shared.ErrQueueUnavailable, err)
	}
	return info.Pending, nil
}
