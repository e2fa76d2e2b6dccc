package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

// pollLockTTL guards each poll tick across instances. Slightly longer
// than a typical tick so a crashed holder does not block the next one
// for long.
const pollLockTTL = 5 * time.Minute

// PollSpec defines one recurring batch import: on every tick of Schedule,
// a batch job fans out imports for the external records matching Filters.
type PollSpec struct {
	// Schedule is a standard 5-field cron expression
	Schedule string

	// BackendID selects the backend instance
	BackendID string

	// EntityType selects the pipeline
	EntityType string

	// Filters narrows the external search (e.g. changed-since windows)
	Filters map[string]any
}

// Scheduler runs periodic batch imports off cron schedules. Each tick is
// guarded by a distributed lock so only one instance of a deployment
// enqueues the batch.
type Scheduler struct {
	registry *Registry
	jobs     driven.JobQueue
	lock     driven.RecordLock
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler. Call Add for each poll spec, then Start.
func NewScheduler(registry *Registry, jobs driven.JobQueue, lock driven.RecordLock, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		jobs:     jobs,
		lock:     lock,
		cron:     cron.New(),
		logger:   logger.With("component", "scheduler"),
	}
}

// Add registers a poll spec. The backend/entity pair must have a pipeline.
func (s *Scheduler) Add(spec PollSpec) error {
	if _, err := cron.ParseStandard(spec.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec.Schedule, err)
	}
	if _, err := s.registry.Lookup(spec.BackendID, spec.EntityType); err != nil {
		return err
	}

	_, err := s.cron.AddFunc(spec.Schedule, func() {
		if err := s.tick(context.Background(), spec); err != nil {
			s.logger.Error("poll tick failed",
				"backend_id", spec.BackendID, "entity_type", spec.EntityType, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("add poll %s/%s: %w", spec.BackendID, spec.EntityType, err)
	}
	s.logger.Info("poll registered",
		"backend_id", spec.BackendID, "entity_type", spec.EntityType, "schedule", spec.Schedule)
	return nil
}

// Start begins firing registered polls in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick(ctx context.Context, spec PollSpec) error {
	lockName := fmt.Sprintf("poll:%s:%s", spec.BackendID, spec.EntityType)
	acquired, err := s.lock.Acquire(ctx, lockName, pollLockTTL)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", lockName, err)
	}
	if !acquired {
		// Another instance owns this tick.
		s.logger.Debug("poll tick skipped, lock held", "lock", lockName)
		return nil
	}
	defer func() {
		if rerr := s.lock.Release(ctx, lockName); rerr != nil {
			s.logger.Warn("failed to release poll lock", "lock", lockName, "error", rerr)
		}
	}()

	job := domain.NewBatchImportJob(spec.BackendID, spec.EntityType, spec.Filters)
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue batch import: %w", err)
	}
	s.logger.Info("batch import enqueued",
		"backend_id", spec.BackendID, "entity_type", spec.EntityType, "job_id", job.ID)
	return nil
}
