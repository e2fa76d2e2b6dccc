// Package postgres provides a PostgreSQL-backed job queue using SKIP
// LOCKED for reliable delivery. It is the fallback when Redis is not
// available.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

// Ensure Queue implements JobQueue
var _ driven.JobQueue = (*Queue)(nil)

// Queue implements JobQueue using PostgreSQL with SKIP LOCKED so only one
// worker gets each job even with many workers.
type Queue struct {
	db *sql.DB
}

// NewQueue creates a new PostgreSQL-backed job queue.
// Assumes the jobs table has been created via InitSchema.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

const jobColumns = `id, kind, backend_id, entity_type, external_key, local_id, force,
	fields, filters, status, priority, attempts, max_attempts, error,
	created_at, updated_at, started_at, completed_at, scheduled_for`

// Enqueue adds a job to the queue
func (q *Queue) Enqueue(ctx context.Context, job *domain.Job) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertJob(ctx, tx, job); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// EnqueueBatch adds multiple jobs atomically
func (q *Queue) EnqueueBatch(ctx context.Context, jobs []*domain.Job) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, job := range jobs {
		if err := insertJob(ctx, tx, job); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func insertJob(ctx context.Context, tx *sql.Tx, job *domain.Job) error {
	fields, err := json.Marshal(job.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields for job %s: %w", job.ID, err)
	}
	filters, err := json.Marshal(job.Filters)
	if err != nil {
		return fmt.Errorf("marshal filters for job %s: %w", job.ID, err)
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err = tx.ExecContext(ctx, query,
		job.ID,
		job.Kind,
		job.BackendID,
		job.EntityType,
		job.ExternalKey,
		job.LocalID,
		job.Force,
		fields,
		filters,
		job.Status,
		job.Priority,
		job.Attempts,
		job.MaxAttempts,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
		NullTime(job.StartedAt),
		NullTime(job.CompletedAt),
		job.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// DequeueWithTimeout retrieves the next job, waiting up to timeout seconds.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Job, error) {
	return q.dequeue(ctx, timeout)
}

func (q *Queue) dequeue(ctx context.Context, timeoutSeconds int) (*domain.Job, error) {
	// Use a transaction to atomically select and update
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	selectQuery := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		  AND scheduled_for <= NOW()
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	job, err := scanJob(tx.QueryRowContext(ctx, selectQuery, domain.JobStatusPending))
	if err == sql.ErrNoRows {
		_ = tx.Rollback()

		// If timeout specified, wait and retry once
		if timeoutSeconds > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(timeoutSeconds) * time.Second):
				return q.dequeue(ctx, 0)
			}
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updateQuery := `
		UPDATE jobs
		SET status = $1, started_at = $2, updated_at = $3, attempts = attempts + 1
		WHERE id = $4
	`
	if _, err := tx.ExecContext(ctx, updateQuery,
		domain.JobStatusProcessing, now, now, job.ID); err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	job.Status = domain.JobStatusProcessing
	job.StartedAt = &now
	job.UpdatedAt = now
	job.Attempts++
	return job, nil
}

// Ack marks a job as completed
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	now := time.Now()
	query := `
		UPDATE jobs
		SET status = $1, completed_at = $2, updated_at = $3, error = ''
		WHERE id = $4
	`
	result, err := q.db.ExecContext(ctx, query,
		domain.JobStatusCompleted, now, now, jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return requireRow(result)
}

// Nack reschedules a job with exponential backoff, or fails it once the
// retry budget is exhausted.
func (q *Queue) Nack(ctx context.Context, jobID, reason string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	now := time.Now()

	if job.CanRetry() {
		backoff := time.Duration(1<<job.Attempts) * time.Second
		if backoff > 5*time.Minute {
			backoff = 5 * time.Minute
		}

		query := `
			UPDATE jobs
			SET status = $1, error = $2, updated_at = $3, scheduled_for = $4
			WHERE id = $5
		`
		_, err = q.db.ExecContext(ctx, query,
			domain.JobStatusPending, reason, now, now.Add(backoff), jobID)
	} else {
		query := `
			UPDATE jobs
			SET status = $1, error = $2, updated_at = $3
			WHERE id = $4
		`
		_, err = q.db.ExecContext(ctx, query,
			domain.JobStatusFailed, reason, now, jobID)
	}

	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// Fail marks a job permanently failed without consuming retries.
func (q *Queue) Fail(ctx context.Context, jobID, reason string) error {
	query := `
		UPDATE jobs
		SET status = $1, error = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := q.db.ExecContext(ctx, query,
		domain.JobStatusFailed, reason, time.Now(), jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return requireRow(result)
}

// Get retrieves a job by ID
func (q *Queue) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(q.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return job, err
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(EXTRACT(EPOCH FROM NOW() - MIN(created_at) FILTER (WHERE status = 'pending')), 0)::bigint
		FROM jobs
	`
	stats := &driven.QueueStats{}
	err := q.db.QueryRowContext(ctx, query).Scan(
		&stats.PendingCount,
		&stats.ProcessingCount,
		&stats.CompletedCount,
		&stats.FailedCount,
		&stats.OldestPendingAge,
	)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return stats, nil
}

// Ping checks if the database is reachable
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close is a no-op; the caller owns the database handle.
func (q *Queue) Close() error {
	return nil
}

func scanJob(row *sql.Row) (*domain.Job, error) {
	var job domain.Job
	var fields, filters []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.BackendID,
		&job.EntityType,
		&job.ExternalKey,
		&job.LocalID,
		&job.Force,
		&fields,
		&filters,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
		&job.ScheduledFor,
	)
	if err != nil {
		return nil, err
	}

	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &job.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &job.Filters); err != nil {
			return nil, fmt.Errorf("unmarshal filters: %w", err)
		}
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// NullTime converts a time pointer to sql.NullTime
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
