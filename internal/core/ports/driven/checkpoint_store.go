package driven

import (
	"context"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

// CheckpointStore persists flagged records awaiting operator review.
// Fatal record-tied failures land here rather than being dropped.
type CheckpointStore interface {
	// Flag persists a checkpoint.
	Flag(ctx context.Context, cp *domain.Checkpoint) error

	// List returns checkpoints for a backend, optionally only unresolved.
	List(ctx context.Context, backendID string, unresolvedOnly bool, limit int) ([]*domain.Checkpoint, error)

	// Resolve marks a checkpoint handled.
	Resolve(ctx context.Context, id string) error
}
