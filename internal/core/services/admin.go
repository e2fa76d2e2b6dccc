package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

// Admin is the operator surface: manual job submission and inspection of
// bindings and checkpoints.
type Admin struct {
	registry    *Registry
	jobs        driven.JobQueue
	bindings    driven.BindingStore
	checkpoints driven.CheckpointStore
	logger      *slog.Logger
}

// NewAdmin creates an Admin over the registered pipelines and stores.
func NewAdmin(registry *Registry, jobs driven.JobQueue, bindings driven.BindingStore,
	checkpoints driven.CheckpointStore, logger *slog.Logger) *Admin {
	return &Admin{
		registry:    registry,
		jobs:        jobs,
		bindings:    bindings,
		checkpoints: checkpoints,
		logger:      logger.With("component", "admin"),
	}
}

// Submit enqueues a synchronization job after checking that a pipeline
// exists for its backend/entity pair.
func (a *Admin) Submit(ctx context.Context, job *domain.Job) error {
	if _, err := a.registry.Lookup(job.BackendID, job.EntityType); err != nil {
		return err
	}
	if err := a.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Kind, err)
	}
	a.logger.Info("job submitted", "job_id", job.ID, "kind", job.Kind,
		"backend_id", job.BackendID, "entity_type", job.EntityType)
	return nil
}

// Job returns job status by id.
func (a *Admin) Job(ctx context.Context, id string) (*domain.Job, error) {
	return a.jobs.Get(ctx, id)
}

// Bindings lists bindings of one backend/entity pair.
func (a *Admin) Bindings(ctx context.Context, backendID, entityType string, limit int) ([]*domain.Binding, error) {
	return a.bindings.List(ctx, backendID, entityType, limit)
}

// Checkpoints lists flagged records for a backend.
func (a *Admin) Checkpoints(ctx context.Context, backendID string, unresolvedOnly bool, limit int) ([]*domain.Checkpoint, error) {
	return a.checkpoints.List(ctx, backendID, unresolvedOnly, limit)
}

// ResolveCheckpoint marks a checkpoint handled.
func (a *Admin) ResolveCheckpoint(ctx context.Context, id string) error {
	return a.checkpoints.Resolve(ctx, id)
}
