package driven

import (
	"context"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

// RecordStore is the local business-data store: a typed key-value store
// with filtering, not a relational engine. The business schema is opaque
// to the sync core.
//
// Implementations fire record events to the registered handler on Create
// and Update unless the unit of work is suppressed via domain.SuppressSync
// (writes the core performs itself must not re-trigger synchronization).
type RecordStore interface {
	// Create inserts a record and returns its new local id.
	Create(ctx context.Context, entityType string, fields map[string]any) (string, error)

	// Update writes field values onto an existing record.
	Update(ctx context.Context, entityType, id string, fields map[string]any) error

	// Get retrieves one record. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, entityType, id string) (*domain.Record, error)

	// Search returns the local ids matching filters (equality matches).
	Search(ctx context.Context, entityType string, filters map[string]any) ([]string, error)

	// Browse retrieves multiple records by id, skipping missing ones.
	Browse(ctx context.Context, entityType string, ids []string) ([]*domain.Record, error)

	// Delete removes a record.
	Delete(ctx context.Context, entityType, id string) error

	// Subscribe registers the handler receiving record events. One
	// handler per store; registration happens once at startup.
	Subscribe(handler func(ctx context.Context, ev domain.RecordEvent))
}
