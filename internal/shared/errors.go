package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrTransientBackend indicates the queue or database is temporarily unreachable;
	// callers should retry.
	ErrTransientBackend = errors.New("transient backend error")
	// ErrDataIntegrity indicates a detected invariant violation (duplicate key,
	// inconsistent denormalized state). Hygiene passes repair these where possible.
	ErrDataIntegrity = errors.New("data integrity violation")
	// ErrUpstreamSnapshot indicates a single malformed external record. It is
	// counted and skipped, never propagated past the batch boundary.
	ErrUpstreamSnapshot = errors.New("malformed upstream snapshot")
	// ErrJobExhausted indicates a job ran out of retry attempts.
	ErrJobExhausted = errors.New("job retry budget exhausted")
	// ErrJobNotFound indicates the job id is unknown or evicted past retention.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueUnavailable indicates the durable queue backend is unreachable.
	ErrQueueUnavailable = errors.New("queue unavailable")
)
