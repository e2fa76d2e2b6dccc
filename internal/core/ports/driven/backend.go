package driven

import (
	"context"
)

// BackendClient is the uniform CRUD facade over an external backend. Side
// effects are entirely on the external system; implementations hold no
// local state.
//
// Transient transport failures surface as domain.Retryable so callers
// re-schedule rather than abort. A missing record is domain.ErrNotFound,
// and a forbidden delete is domain.ErrUnsupported.
type BackendClient interface {
	// Search returns the external ids matching filters.
	Search(ctx context.Context, entity string, filters map[string]any) ([]string, error)

	// Read returns the raw external record.
	Read(ctx context.Context, entity, id string) (map[string]any, error)

	// ReadFields reads only the named attributes of one record. Used by
	// the exporter's drift check to avoid a full record fetch.
	ReadFields(ctx context.Context, entity, id string, fields []string) (map[string]any, error)

	// Create creates an external record and returns its new id.
	Create(ctx context.Context, entity string, data map[string]any) (string, error)

	// Update writes field values onto an existing external record.
	Update(ctx context.Context, entity, id string, data map[string]any) error

	// Delete removes an external record. Backends that forbid deletes
	// return domain.ErrUnsupported.
	Delete(ctx context.Context, entity, id string) error

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error
}
