package mocks

import (
	"context"
	"strconv"
	"sync"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

// MockRecordStore is an in-memory RecordStore for testing. Like the real
// adapters it fires record events on create/update unless the unit of work
// is suppressed.
type MockRecordStore struct {
	mu      sync.RWMutex
	data    map[string]map[string]map[string]any // entity -> id -> fields
	nextID  int
	handler func(ctx context.Context, ev domain.RecordEvent)

	// Error injection
	CreateErr error
	UpdateErr error
	GetErr    error
}

// NewMockRecordStore creates a new MockRecordStore.
func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{
		data:   make(map[string]map[string]map[string]any),
		nextID: 1,
	}
}

func (m *MockRecordStore) Create(ctx context.Context, entityType string, fields map[string]any) (string, error) {
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	m.mu.Lock()
	id := "local-" + strconv.Itoa(m.nextID)
	m.nextID++
	if m.data[entityType] == nil {
		m.data[entityType] = make(map[string]map[string]any)
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.data[entityType][id] = cp
	handler := m.handler
	m.mu.Unlock()

	if handler != nil && !domain.SyncSuppressed(ctx) {
		handler(ctx, domain.RecordEvent{
			EntityType: entityType,
			LocalID:    id,
			Changed:    keys(fields),
			Created:    true,
		})
	}
	return id, nil
}

func (m *MockRecordStore) Update(ctx context.Context, entityType, id string, fields map[string]any) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	rec, ok := m.data[entityType][id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	for k, v := range fields {
		rec[k] = v
	}
	handler := m.handler
	m.mu.Unlock()

	if handler != nil && !domain.SyncSuppressed(ctx) {
		handler(ctx, domain.RecordEvent{
			EntityType: entityType,
			LocalID:    id,
			Changed:    keys(fields),
		})
	}
	return nil
}

func (m *MockRecordStore) Get(ctx context.Context, entityType, id string) (*domain.Record, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.data[entityType][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &domain.Record{EntityType: entityType, ID: id, Fields: cp}, nil
}

func (m *MockRecordStore) Search(ctx context.Context, entityType string, filters map[string]any) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, fields := range m.data[entityType] {
		match := true
		for k, v := range filters {
			if fields[k] != v {
				match = false
				break
			}
		}
		if match {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MockRecordStore) Browse(ctx context.Context, entityType string, ids []string) ([]*domain.Record, error) {
	var records []*domain.Record
	for _, id := range ids {
		rec, err := m.Get(ctx, entityType, id)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (m *MockRecordStore) Delete(ctx context.Context, entityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[entityType], id)
	return nil
}

func (m *MockRecordStore) Subscribe(handler func(ctx context.Context, ev domain.RecordEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// Helper methods for testing

// Seed inserts a record under a fixed local id.
func (m *MockRecordStore) Seed(entityType, id string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[entityType] == nil {
		m.data[entityType] = make(map[string]map[string]any)
	}
	m.data[entityType][id] = fields
}

// Fields returns the stored field map for one record (nil if absent).
func (m *MockRecordStore) FieldsOf(entityType, id string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[entityType][id]
}

func keys(fields map[string]any) []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	return out
}
