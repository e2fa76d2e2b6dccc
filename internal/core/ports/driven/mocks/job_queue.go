package mocks

import (
	"context"
	"sync"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

// MockJobQueue is an in-memory JobQueue for testing.
type MockJobQueue struct {
	mu      sync.Mutex
	pending []*domain.Job
	jobs    map[string]*domain.Job

	// Error injection
	EnqueueErr error
}

// NewMockJobQueue creates a new MockJobQueue.
func NewMockJobQueue() *MockJobQueue {
	return &MockJobQueue{
		jobs: make(map[string]*domain.Job),
	}
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, job)
	m.jobs[job.ID] = job
	return nil
}

func (m *MockJobQueue) EnqueueBatch(ctx context.Context, jobs []*domain.Job) error {
	for _, j := range jobs {
		if err := m.Enqueue(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockJobQueue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, j := range m.pending {
		if j.IsReady() {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			j.MarkProcessing()
			return j, nil
		}
	}
	return nil, nil
}

func (m *MockJobQueue) Ack(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		j.MarkCompleted()
	}
	return nil
}

func (m *MockJobQueue) Nack(ctx context.Context, jobID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if !j.CanRetry() {
		j.MarkFailed(reason)
		return nil
	}
	j.Retry(reason)
	m.pending = append(m.pending, j)
	return nil
}

func (m *MockJobQueue) Fail(ctx context.Context, jobID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		j.MarkFailed(reason)
	}
	return nil
}

func (m *MockJobQueue) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

func (m *MockJobQueue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &driven.QueueStats{}
	for _, j := range m.jobs {
		switch j.Status {
		case domain.JobStatusPending:
			stats.PendingCount++
		case domain.JobStatusProcessing:
			stats.ProcessingCount++
		case domain.JobStatusCompleted:
			stats.CompletedCount++
		case domain.JobStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (m *MockJobQueue) Ping(ctx context.Context) error { return nil }

func (m *MockJobQueue) Close() error { return nil }

// Helper methods for testing

// Enqueued returns all jobs ever enqueued, in order.
func (m *MockJobQueue) Enqueued() []*domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

// EnqueuedOfKind returns enqueued jobs of one kind.
func (m *MockJobQueue) EnqueuedOfKind(kind domain.JobKind) []*domain.Job {
	var out []*domain.Job
	for _, j := range m.Enqueued() {
		if j.Kind == kind {
			out = append(out, j)
		}
	}
	return out
}
