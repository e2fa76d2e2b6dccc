package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

// MockBindingStore is an in-memory BindingStore for testing. It enforces
// the same uniqueness constraints as the SQL schema.
type MockBindingStore struct {
	mu       sync.RWMutex
	bindings map[string]*domain.Binding

	// Error injection
	CreateErr error
	GetErr    error
}

// NewMockBindingStore creates a new MockBindingStore.
func NewMockBindingStore() *MockBindingStore {
	return &MockBindingStore{
		bindings: make(map[string]*domain.Binding),
	}
}

func (m *MockBindingStore) Create(ctx context.Context, b *domain.Binding) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bindings {
		if existing.BackendID != b.BackendID || existing.EntityType != b.EntityType {
			continue
		}
		if existing.LocalID == b.LocalID {
			return domain.ErrDuplicateBinding
		}
		if existing.ExternalID != nil && b.ExternalID != nil && *existing.ExternalID == *b.ExternalID {
			return domain.ErrDuplicateBinding
		}
	}
	cp := *b
	m.bindings[b.ID] = &cp
	return nil
}

func (m *MockBindingStore) Get(ctx context.Context, id string) (*domain.Binding, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bindings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MockBindingStore) GetByLocal(ctx context.Context, backendID, entityType, localID string) (*domain.Binding, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bindings {
		if b.BackendID == backendID && b.EntityType == entityType && b.LocalID == localID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockBindingStore) FindByExternal(ctx context.Context, backendID, entityType, externalID string) ([]*domain.Binding, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Binding
	for _, b := range m.bindings {
		if b.BackendID == backendID && b.EntityType == entityType &&
			b.ExternalID != nil && *b.ExternalID == externalID {
			cp := *b
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MockBindingStore) SetExternalID(ctx context.Context, id, externalID string, syncDate time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.ExternalID = &externalID
	b.SyncDate = &syncDate
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MockBindingStore) Touch(ctx context.Context, id string, syncDate time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.SyncDate = &syncDate
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MockBindingStore) List(ctx context.Context, backendID, entityType string, limit int) ([]*domain.Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Binding
	for _, b := range m.bindings {
		if b.BackendID == backendID && b.EntityType == entityType {
			cp := *b
			result = append(result, &cp)
		}
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MockBindingStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bindings, id)
	return nil
}

// Helper methods for testing

// Put inserts a binding bypassing uniqueness checks (for corrupting state
// in integrity-fault tests).
func (m *MockBindingStore) Put(b *domain.Binding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bindings[b.ID] = &cp
}

// Count returns the number of stored bindings.
func (m *MockBindingStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bindings)
}
