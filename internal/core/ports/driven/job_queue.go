package driven

import (
	"context"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

// JobQueue is the durable task queue the core enqueues synchronization work
// onto. Delivery is at-least-once; retry counting and backoff are owned by
// the queue, the core only classifies failures.
// Implementations can use Redis Streams (preferred) or Postgres (fallback).
type JobQueue interface {
	// Enqueue adds a job for processing.
	Enqueue(ctx context.Context, job *domain.Job) error

	// EnqueueBatch adds multiple jobs atomically.
	EnqueueBatch(ctx context.Context, jobs []*domain.Job) error

	// DequeueWithTimeout retrieves the next available job, waiting up to
	// timeout seconds. Returns nil, nil if none became available. The job
	// is marked processing and not handed to other workers.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Job, error)

	// Ack acknowledges successful completion of a job.
	Ack(ctx context.Context, jobID string) error

	// Nack reschedules a job after a retryable failure, with backoff.
	// Once the retry budget is exhausted the job moves to failed.
	Nack(ctx context.Context, jobID, reason string) error

	// Fail marks a job permanently failed without consuming retries.
	// Used for fatal classifications (validation, integrity).
	Fail(ctx context.Context, jobID, reason string) error

	// Get retrieves a job by id for status checking.
	Get(ctx context.Context, jobID string) (*domain.Job, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)

	// Ping checks if the queue backend is healthy.
	Ping(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}

// QueueStats contains queue statistics.
type QueueStats struct {
	PendingCount    int64 `json:"pending_count"`
	ProcessingCount int64 `json:"processing_count"`
	CompletedCount  int64 `json:"completed_count"`
	FailedCount     int64 `json:"failed_count"`

	// OldestPendingAge is the age of the oldest pending job in seconds
	OldestPendingAge int64 `json:"oldest_pending_age"`
}
