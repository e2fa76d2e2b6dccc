package driven

import (
	"context"
	"time"
)

// RecordLock provides exclusive, non-blocking locks scoped to one binding,
// serializing concurrent exporters of the same record across worker
// instances. A contested Acquire returns false immediately; the caller
// converts that into a retryable job failure instead of waiting.
type RecordLock interface {
	// Acquire attempts to take the named lock with the given TTL.
	// Returns true if acquired, false if held by another worker.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)

	// Release releases a named lock. Best-effort: TTL-based
	// implementations expire the lock anyway, and connection-scoped ones
	// drop it with the unit of work.
	Release(ctx context.Context, name string) error

	// Ping checks if the lock backend is healthy.
	Ping(ctx context.Context) error
}
