// Package memdb provides an in-memory RecordStore backed by
// hashicorp/go-memdb. It is the local store for development and tests,
// where running a real database is not worth the setup cost. Data does
// not survive a restart.
package memdb

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

const recordTable = "records"

// Verify interface compliance
var _ driven.RecordStore = (*RecordStore)(nil)

// storedRecord is the row shape held in memdb. Key is the composite
// primary key; memdb requires a single indexed id field.
type storedRecord struct {
	Key        string
	EntityType string
	ID         string
	Fields     map[string]any
}

func recordKey(entityType, id string) string {
	return entityType + "/" + id
}

// RecordStore holds business records of all entity types in a single
// memdb table, keyed by entity type plus local id.
type RecordStore struct {
	db *memdb.MemDB

	mu      sync.RWMutex
	handler func(ctx context.Context, ev domain.RecordEvent)
}

// NewRecordStore creates an empty in-memory record store.
func NewRecordStore() (*RecordStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			recordTable: {
				Name: recordTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
					"entity_type": {
						Name:    "entity_type",
						Indexer: &memdb.StringFieldIndex{Field: "EntityType"},
					},
				},
			},
		},
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to build memdb schema: %w", err)
	}

	return &RecordStore{db: db}, nil
}

// Create inserts a record and returns its new local id.
func (s *RecordStore) Create(ctx context.Context, entityType string, fields map[string]any) (string, error) {
	if entityType == "" {
		return "", errors.New("entity type is required")
	}

	id := domain.GenerateID()
	row := &storedRecord{
		Key:        recordKey(entityType, id),
		EntityType: entityType,
		ID:         id,
		Fields:     cloneFields(fields),
	}

	txn := s.db.Txn(true)
	if err := txn.Insert(recordTable, row); err != nil {
		txn.Abort()
		return "", fmt.Errorf("failed to insert record: %w", err)
	}
	txn.Commit()

	s.fire(ctx, domain.RecordEvent{
		EntityType: entityType,
		LocalID:    id,
		Changed:    fieldNames(fields),
		Created:    true,
	})

	return id, nil
}

// Update writes field values onto an existing record.
func (s *RecordStore) Update(ctx context.Context, entityType, id string, fields map[string]any) error {
	txn := s.db.Txn(true)

	raw, err := txn.First(recordTable, "id", recordKey(entityType, id))
	if err != nil {
		txn.Abort()
		return fmt.Errorf("failed to look up record: %w", err)
	}
	if raw == nil {
		txn.Abort()
		return domain.ErrNotFound
	}

	// memdb rows are shared snapshots; mutate a copy, not the stored row
	existing := raw.(*storedRecord)
	updated := &storedRecord{
		Key:        existing.Key,
		EntityType: existing.EntityType,
		ID:         existing.ID,
		Fields:     cloneFields(existing.Fields),
	}
	for name, value := range fields {
		updated.Fields[name] = value
	}

	if err := txn.Insert(recordTable, updated); err != nil {
		txn.Abort()
		return fmt.Errorf("failed to update record: %w", err)
	}
	txn.Commit()

	s.fire(ctx, domain.RecordEvent{
		EntityType: entityType,
		LocalID:    id,
		Changed:    fieldNames(fields),
	})

	return nil
}

// Get retrieves one record.
func (s *RecordStore) Get(ctx context.Context, entityType, id string) (*domain.Record, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(recordTable, "id", recordKey(entityType, id))
	if err != nil {
		return nil, fmt.Errorf("failed to look up record: %w", err)
	}
	if raw == nil {
		return nil, domain.ErrNotFound
	}

	return toDomain(raw.(*storedRecord)), nil
}

// Search returns the local ids whose fields equal all given filters.
func (s *RecordStore) Search(ctx context.Context, entityType string, filters map[string]any) ([]string, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(recordTable, "entity_type", entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}

	var ids []string
	for raw := it.Next(); raw != nil; raw = it.Next() {
		row := raw.(*storedRecord)
		if matchesFilters(row.Fields, filters) {
			ids = append(ids, row.ID)
		}
	}

	return ids, nil
}

// Browse retrieves multiple records by id, skipping missing ones.
func (s *RecordStore) Browse(ctx context.Context, entityType string, ids []string) ([]*domain.Record, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	records := make([]*domain.Record, 0, len(ids))
	for _, id := range ids {
		raw, err := txn.First(recordTable, "id", recordKey(entityType, id))
		if err != nil {
			return nil, fmt.Errorf("failed to look up record: %w", err)
		}
		if raw == nil {
			continue
		}
		records = append(records, toDomain(raw.(*storedRecord)))
	}

	return records, nil
}

// Delete removes a record.
func (s *RecordStore) Delete(ctx context.Context, entityType, id string) error {
	txn := s.db.Txn(true)

	raw, err := txn.First(recordTable, "id", recordKey(entityType, id))
	if err != nil {
		txn.Abort()
		return fmt.Errorf("failed to look up record: %w", err)
	}
	if raw == nil {
		txn.Abort()
		return domain.ErrNotFound
	}

	if err := txn.Delete(recordTable, raw); err != nil {
		txn.Abort()
		return fmt.Errorf("failed to delete record: %w", err)
	}
	txn.Commit()

	return nil
}

// Subscribe registers the handler receiving record events.
func (s *RecordStore) Subscribe(handler func(ctx context.Context, ev domain.RecordEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *RecordStore) fire(ctx context.Context, ev domain.RecordEvent) {
	if domain.SyncSuppressed(ctx) {
		return
	}

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()

	if handler != nil {
		handler(ctx, ev)
	}
}

func toDomain(row *storedRecord) *domain.Record {
	return &domain.Record{
		EntityType: row.EntityType,
		ID:         row.ID,
		Fields:     cloneFields(row.Fields),
	}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		out[name] = value
	}
	return out
}

func fieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	return names
}

func matchesFilters(fields, filters map[string]any) bool {
	for name, want := range filters {
		got, ok := fields[name]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
