package driven

import (
	"context"
	"time"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

// BindingStore persists the binding table. At most one binding may exist
// per (backend, entity type, local id) and per (backend, entity type,
// external id); the store enforces both with uniqueness constraints and
// reports violations as domain.ErrDuplicateBinding.
//
// Each call is its own committed unit of work: a binding written during
// dependency resolution survives a later failure of the enclosing job.
type BindingStore interface {
	// Create persists a new binding. Returns domain.ErrDuplicateBinding
	// when a uniqueness constraint fires.
	Create(ctx context.Context, b *domain.Binding) error

	// Get retrieves a binding by surrogate id.
	Get(ctx context.Context, id string) (*domain.Binding, error)

	// GetByLocal retrieves the binding for a local record. Returns
	// domain.ErrNotFound if none exists.
	GetByLocal(ctx context.Context, backendID, entityType, localID string) (*domain.Binding, error)

	// FindByExternal returns all bindings matching an external identity.
	// More than one result signals an integrity fault; classification is
	// the binder's job, the store just reports.
	FindByExternal(ctx context.Context, backendID, entityType, externalID string) ([]*domain.Binding, error)

	// SetExternalID upserts the external id and refreshes sync_date.
	SetExternalID(ctx context.Context, id, externalID string, syncDate time.Time) error

	// Touch refreshes sync_date after a successful sync pass.
	Touch(ctx context.Context, id string, syncDate time.Time) error

	// List returns the bindings of one backend/entity pair.
	List(ctx context.Context, backendID, entityType string, limit int) ([]*domain.Binding, error)

	// Delete removes a binding (cascade from record deletion).
	Delete(ctx context.Context, id string) error
}
