package mocks

import (
	"context"
	"sync"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

// MockCheckpointStore is an in-memory CheckpointStore for testing.
type MockCheckpointStore struct {
	mu          sync.Mutex
	checkpoints []*domain.Checkpoint
}

// NewMockCheckpointStore creates a new MockCheckpointStore.
func NewMockCheckpointStore() *MockCheckpointStore {
	return &MockCheckpointStore{}
}

func (m *MockCheckpointStore) Flag(ctx context.Context, cp *domain.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cp
	m.checkpoints = append(m.checkpoints, &c)
	return nil
}

func (m *MockCheckpointStore) List(ctx context.Context, backendID string, unresolvedOnly bool, limit int) ([]*domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Checkpoint
	for _, cp := range m.checkpoints {
		if backendID != "" && cp.BackendID != backendID {
			continue
		}
		if unresolvedOnly && cp.Resolved {
			continue
		}
		out = append(out, cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockCheckpointStore) Resolve(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cp := range m.checkpoints {
		if cp.ID == id {
			cp.Resolved = true
			return nil
		}
	}
	return domain.ErrNotFound
}

// Flagged returns all stored checkpoints.
func (m *MockCheckpointStore) Flagged() []*domain.Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Checkpoint, len(m.checkpoints))
	copy(out, m.checkpoints)
	return out
}
