package mocks

import (
	"context"
	"sync"
	"time"
)

// MockRecordLock is an in-memory RecordLock for testing. TTLs are ignored;
// locks live until released.
type MockRecordLock struct {
	mu   sync.Mutex
	held map[string]bool

	// Error injection
	AcquireErr error
}

// NewMockRecordLock creates a new MockRecordLock.
func NewMockRecordLock() *MockRecordLock {
	return &MockRecordLock{
		held: make(map[string]bool),
	}
}

func (m *MockRecordLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireErr != nil {
		return false, m.AcquireErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[name] {
		return false, nil
	}
	m.held[name] = true
	return true, nil
}

func (m *MockRecordLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, name)
	return nil
}

func (m *MockRecordLock) Ping(ctx context.Context) error { return nil }

// Helper methods for testing

// Hold marks a lock as held by someone else.
func (m *MockRecordLock) Hold(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[name] = true
}

// Held reports whether a lock is currently held.
func (m *MockRecordLock) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[name]
}
