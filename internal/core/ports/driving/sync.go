package driving

import (
	"context"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

// RecordEvents is the core's entrypoint for local record change
// notifications. The event notifier (or the record store adapter) calls it
// on every create/write outside a suppressed unit of work; the core
// translates the events into binding creation and export-job enqueues.
type RecordEvents interface {
	// OnCreate handles a newly created local record.
	OnCreate(ctx context.Context, entityType, localID string, changed []string) error

	// OnWrite handles a write to an existing local record.
	OnWrite(ctx context.Context, entityType, localID string, changed []string) error
}

// SyncAdmin is the operator-facing surface: manual job submission and
// inspection of bindings and checkpoints.
type SyncAdmin interface {
	// Submit enqueues a synchronization job.
	Submit(ctx context.Context, job *domain.Job) error

	// Job returns job status by id.
	Job(ctx context.Context, id string) (*domain.Job, error)

	// Bindings lists bindings of one backend/entity pair.
	Bindings(ctx context.Context, backendID, entityType string, limit int) ([]*domain.Binding, error)

	// Checkpoints lists flagged records for a backend.
	Checkpoints(ctx context.Context, backendID string, unresolvedOnly bool, limit int) ([]*domain.Checkpoint, error)

	// ResolveCheckpoint marks a checkpoint handled.
	ResolveCheckpoint(ctx context.Context, id string) error
}
