package mocks

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

// BackendCall records one mutating call against the mock backend.
type BackendCall struct {
	Op     string // "create", "update", "delete"
	Entity string
	ID     string
	Data   map[string]any
}

// MockBackend is an in-memory BackendClient for testing. It records every
// mutating call so tests can assert on write counts and payloads.
type MockBackend struct {
	mu      sync.RWMutex
	records map[string]map[string]map[string]any // entity -> id -> raw record
	nextID  int
	calls   []BackendCall

	// Error injection
	ReadErr    error
	CreateErr  error
	UpdateErr  error
	SearchErr  error
	NoDeletes  bool // Delete returns domain.ErrUnsupported
	Unreliable bool // every call fails retryable
}

// NewMockBackend creates a new MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		records: make(map[string]map[string]map[string]any),
		nextID:  1,
	}
}

func (m *MockBackend) Search(ctx context.Context, entity string, filters map[string]any) ([]string, error) {
	if m.Unreliable {
		return nil, domain.Retryablef("backend unreachable")
	}
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, raw := range m.records[entity] {
		match := true
		for k, v := range filters {
			if raw[k] != v {
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

func (m *MockBackend) Read(ctx context.Context, entity, id string) (map[string]any, error) {
	if m.Unreliable {
		return nil, domain.Retryablef("backend unreachable")
	}
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.records[entity][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := make(map[string]any, len(raw))
	for k, v := range raw {
		cp[k] = v
	}
	return cp, nil
}

func (m *MockBackend) ReadFields(ctx context.Context, entity, id string, fields []string) (map[string]any, error) {
	raw, err := m.Read(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := raw[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

func (m *MockBackend) Create(ctx context.Context, entity string, data map[string]any) (string, error) {
	if m.Unreliable {
		return "", domain.Retryablef("backend unreachable")
	}
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := strconv.Itoa(m.nextID)
	m.nextID++
	if m.records[entity] == nil {
		m.records[entity] = make(map[string]map[string]any)
	}
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}
	m.records[entity][id] = cp
	m.calls = append(m.calls, BackendCall{Op: "create", Entity: entity, ID: id, Data: cp})
	return id, nil
}

func (m *MockBackend) Update(ctx context.Context, entity, id string, data map[string]any) error {
	if m.Unreliable {
		return domain.Retryablef("backend unreachable")
	}
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.records[entity][id]
	if !ok {
		return domain.ErrNotFound
	}
	cp := make(map[string]any, len(data))
	for k, v := range data {
		raw[k] = v
		cp[k] = v
	}
	m.calls = append(m.calls, BackendCall{Op: "update", Entity: entity, ID: id, Data: cp})
	return nil
}

func (m *MockBackend) Delete(ctx context.Context, entity, id string) error {
	if m.Unreliable {
		return domain.Retryablef("backend unreachable")
	}
	if m.NoDeletes {
		return fmt.Errorf("delete %s/%s: %w", entity, id, domain.ErrUnsupported)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[entity][id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.records[entity], id)
	m.calls = append(m.calls, BackendCall{Op: "delete", Entity: entity, ID: id})
	return nil
}

func (m *MockBackend) Ping(ctx context.Context) error {
	if m.Unreliable {
		return domain.Retryablef("backend unreachable")
	}
	return nil
}

// Helper methods for testing

// Seed inserts a raw record under a fixed external id.
func (m *MockBackend) Seed(entity, id string, raw map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[entity] == nil {
		m.records[entity] = make(map[string]map[string]any)
	}
	m.records[entity][id] = raw
}

// Calls returns all recorded mutating calls.
func (m *MockBackend) Calls() []BackendCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]BackendCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// WriteCount returns the number of mutating calls against one entity.
func (m *MockBackend) WriteCount(entity string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.calls {
		if c.Entity == entity {
			n++
		}
	}
	return n
}
