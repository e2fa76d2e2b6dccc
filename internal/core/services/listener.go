package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

// Listener translates local record change events into export jobs. One
// event fans out to every registered pipeline for the entity type, so a
// record bound to two backends produces two export jobs. Writes made by
// the sync engine itself carry the suppression flag and are ignored.
type Listener struct {
	registry *Registry
	jobs     driven.JobQueue
	logger   *slog.Logger
}

// NewListener creates a Listener over the registered pipelines.
func NewListener(registry *Registry, jobs driven.JobQueue, logger *slog.Logger) *Listener {
	return &Listener{
		registry: registry,
		jobs:     jobs,
		logger:   logger.With("component", "listener"),
	}
}

// OnCreate handles a newly created local record.
func (l *Listener) OnCreate(ctx context.Context, entityType, localID string, changed []string) error {
	return l.dispatch(ctx, entityType, localID, changed, true)
}

// OnWrite handles a write to an existing local record.
func (l *Listener) OnWrite(ctx context.Context, entityType, localID string, changed []string) error {
	return l.dispatch(ctx, entityType, localID, changed, false)
}

func (l *Listener) dispatch(ctx context.Context, entityType, localID string, changed []string, created bool) error {
	if domain.SyncSuppressed(ctx) {
		return nil
	}

	pipelines := l.registry.Pipelines(entityType)
	if len(pipelines) == 0 {
		return nil
	}

	var errs []error
	for _, p := range pipelines {
		if !p.Backend.Enabled {
			continue
		}
		// Import-only entities have no export rules; local writes to
		// them stay local.
		if len(p.Descriptor.ExportRules) == 0 {
			continue
		}
		// Binding creation happens here so the record is visible as
		// "pending sync" before the job runs.
		if _, err := p.Binder.EnsureBinding(ctx, localID); err != nil {
			errs = append(errs, fmt.Errorf("backend %s: %w", p.Backend.ID, err))
			continue
		}
		job := domain.NewExportJob(p.Backend.ID, entityType, localID, changed)
		if err := l.jobs.Enqueue(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("backend %s: enqueue export: %w", p.Backend.ID, err))
			continue
		}
		l.logger.Debug("export job enqueued",
			"backend_id", p.Backend.ID, "entity_type", entityType,
			"local_id", localID, "created", created, "job_id", job.ID)
	}
	return errors.Join(errs...)
}
