package postgres

import (
	"context"
	"database/sql"
	"hash/fnv"
	"sync"
	"time"

	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.RecordLock = (*AdvisoryLock)(nil)

// AdvisoryLock implements RecordLock using PostgreSQL advisory locks.
//
// Advisory locks are session-scoped: a lock taken on one connection is
// reentrant on that connection and can only be released by it. Going
// through the shared pool would let two goroutines acquire the same lock
// whenever they land on the same pooled connection, and release on a
// different connection silently does nothing. Each acquired lock
// therefore pins a dedicated connection until Release.
//
// The TTL parameter is ignored; a lock is held until Release or until
// the pinned connection dies, which releases it server-side.
type AdvisoryLock struct {
	db *DB

	mu   sync.Mutex
	held map[string]*sql.Conn
}

// NewAdvisoryLock creates a new PostgreSQL advisory lock adapter.
func NewAdvisoryLock(db *DB) *AdvisoryLock {
	return &AdvisoryLock{
		db:   db,
		held: make(map[string]*sql.Conn),
	}
}

// hashLockName converts a string lock name to a 64-bit integer for PostgreSQL advisory locks.
// Uses FNV-1a hash for consistent, well-distributed values.
func hashLockName(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("carebridge:lock:" + name))
	return int64(h.Sum64())
}

// Acquire attempts to acquire a named advisory lock on a connection
// checked out for the lock's lifetime. Uses pg_try_advisory_lock which
// returns immediately without blocking.
func (l *AdvisoryLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	_, holding := l.held[name]
	l.mu.Unlock()
	if holding {
		// Already held in this process. A fresh session would report
		// the lock as contested anyway; skip the round trip.
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", hashLockName(name)).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}

	l.mu.Lock()
	l.held[name] = conn
	l.mu.Unlock()
	return true, nil
}

// Release releases a named advisory lock on the connection that holds it
// and returns the connection to the pool. Safe to call for locks this
// process does not hold.
func (l *AdvisoryLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	conn, ok := l.held[name]
	delete(l.held, name)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	defer conn.Close()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", hashLockName(name)).Scan(&released); err != nil {
		return err
	}
	return nil
}

// Ping checks if the PostgreSQL backend is healthy.
func (l *AdvisoryLock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
