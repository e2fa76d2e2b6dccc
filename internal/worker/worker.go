package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
	"github.com/carebridge-labs/carebridge-core/internal/core/services"
)

// Worker processes synchronization jobs from the job queue. It resolves
// each job's pipeline through the registry, runs the importer or exporter,
// and classifies the outcome: transient failures are retried with backoff,
// fatal ones produce an operator checkpoint.
type Worker struct {
	jobQueue    driven.JobQueue
	registry    *services.Registry
	checkpoints driven.CheckpointStore
	scheduler   *services.Scheduler
	logger      *slog.Logger

	// Configuration
	concurrency    int
	dequeueTimeout int // seconds

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Config holds configuration for the worker.
type Config struct {
	JobQueue    driven.JobQueue
	Registry    *services.Registry
	Checkpoints driven.CheckpointStore
	Scheduler   *services.Scheduler
	Logger      *slog.Logger

	// Concurrency is the number of concurrent job processors
	Concurrency int
	// DequeueTimeout is the seconds to wait for a job before checking again
	DequeueTimeout int
}

// New creates a job worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	return &Worker{
		jobQueue:       cfg.JobQueue,
		registry:       cfg.Registry,
		checkpoints:    cfg.Checkpoints,
		scheduler:      cfg.Scheduler,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	if w.scheduler != nil {
		w.scheduler.Start()
	}

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

// processLoop is the main processing loop for a worker goroutine.
func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Info("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Info("worker stop signal received")
			return
		default:
		}

		job, err := w.jobQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue job", "error", err)
			time.Sleep(time.Second) // Back off on error
			continue
		}

		if job == nil {
			continue
		}

		w.processJob(ctx, job, logger)
	}
}

// processJob runs one job and settles it against the queue.
func (w *Worker) processJob(ctx context.Context, job *domain.Job, logger *slog.Logger) {
	logger = logger.With("job_id", job.ID, "kind", job.Kind,
		"backend_id", job.BackendID, "entity_type", job.EntityType)
	logger.Info("processing job")

	startTime := time.Now()
	err := w.dispatch(ctx, job)
	duration := time.Since(startTime)

	if err == nil {
		logger.Info("job completed", "duration", duration)
		if ackErr := w.jobQueue.Ack(ctx, job.ID); ackErr != nil {
			logger.Error("failed to ack job", "ack_error", ackErr)
		}
		return
	}

	if w.shouldRetry(job, err) {
		logger.Warn("job failed, scheduling retry",
			"duration", duration, "attempt", job.Attempts, "error", err)
		if nackErr := w.jobQueue.Nack(ctx, job.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack job", "nack_error", nackErr)
		}
		return
	}

	// Fatal: flag the record for operator review instead of retrying.
	logger.Error("job failed fatally", "duration", duration, "error", err)
	w.flagCheckpoint(ctx, job, err, logger)
	if failErr := w.jobQueue.Fail(ctx, job.ID, err.Error()); failErr != nil {
		logger.Error("failed to mark job failed", "fail_error", failErr)
	}
}

// shouldRetry classifies a job failure. Transient errors retry within the
// job's attempt budget. A missing identity retries once, covering the
// window where a dependency's binding is committed but not yet visible;
// after that it is fatal.
func (w *Worker) shouldRetry(job *domain.Job, err error) bool {
	if !job.CanRetry() {
		return false
	}
	if domain.IsRetryable(err) {
		return true
	}
	if domain.IsIdentityMissing(err) {
		return job.Attempts <= 1
	}
	return false
}

func (w *Worker) flagCheckpoint(ctx context.Context, job *domain.Job, jobErr error, logger *slog.Logger) {
	if w.checkpoints == nil {
		return
	}
	cp := domain.NewCheckpoint(job.BackendID, job.EntityType, string(job.Kind)+" failed")
	cp.LocalID = job.LocalID
	cp.ExternalKey = job.ExternalKey
	cp.Error = jobErr.Error()
	if err := w.checkpoints.Flag(ctx, cp); err != nil {
		logger.Error("failed to flag checkpoint", "error", err)
	}
}

// dispatch routes a job to its pipeline operation.
func (w *Worker) dispatch(ctx context.Context, job *domain.Job) error {
	pipeline, err := w.registry.Lookup(job.BackendID, job.EntityType)
	if err != nil {
		return err
	}
	if !pipeline.Backend.Enabled {
		return fmt.Errorf("backend %s disabled", job.BackendID)
	}

	switch job.Kind {
	case domain.JobImportRecord:
		_, err := pipeline.Importer.Run(ctx, job.ExternalKey, job.Force, false)
		return err
	case domain.JobImportBatch:
		_, err := pipeline.Importer.RunBatch(ctx, job.Filters)
		return err
	case domain.JobExportRecord:
		return pipeline.Exporter.Run(ctx, job.LocalID, job.Fields)
	case domain.JobDeleteRecord:
		return pipeline.Importer.RunDelete(ctx, job.ExternalKey)
	default:
		return fmt.Errorf("unknown job kind: %s", job.Kind)
	}
}

// Health returns health status of the worker.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	if err := w.jobQueue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
