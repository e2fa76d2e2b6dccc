package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

const (
	// Stream names
	jobStream     = "carebridge:jobs"
	jobGroup      = "carebridge:workers"
	scheduledJobs = "carebridge:scheduled"

	// Key prefixes
	jobKeyPrefix = "carebridge:job:"

	// Default consumer name prefix
	consumerPrefix = "worker-"

	// Job data TTL. Completed and failed jobs stay readable for status
	// queries until this expires.
	jobDataTTL = 24 * time.Hour

	// Claim timeout - how long before a job is considered abandoned
	claimTimeout = 5 * time.Minute
)

// Verify interface compliance
var _ driven.JobQueue = (*Queue)(nil)

// Queue implements JobQueue using Redis Streams.
// Redis Streams provide reliable message queuing with consumer groups,
// automatic acknowledgment tracking, and abandoned-message claiming.
// Retry scheduling goes through a sorted set keyed by due time, so
// backoff delays survive worker restarts.
type Queue struct {
	client       *redis.Client
	consumerName string
}

// NewQueue creates a new Redis-backed job queue.
// The consumerName should be unique per worker instance (e.g., hostname + PID).
func NewQueue(client *redis.Client, consumerName string) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if consumerName == "" {
		consumerName = fmt.Sprintf("%s%d", consumerPrefix, time.Now().UnixNano())
	}

	q := &Queue{
		client:       client,
		consumerName: consumerName,
	}

	// Create consumer group if it doesn't exist
	ctx := context.Background()
	err := q.client.XGroupCreateMkStream(ctx, jobStream, jobGroup, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return q, nil
}

// Enqueue adds a job to the queue for processing.
func (q *Queue) Enqueue(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return errors.New("job is required")
	}

	jobKey := jobKeyPrefix + job.ID
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.Pipeline()

	pipe.Set(ctx, jobKey, jobData, jobDataTTL)

	if job.ScheduledFor.After(time.Now()) {
		// Delayed jobs wait in the sorted set until due
		pipe.ZAdd(ctx, scheduledJobs, redis.Z{
			Score:  float64(job.ScheduledFor.Unix()),
			Member: job.ID,
		})
	} else {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: jobStream,
			Values: streamValues(job),
		})
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

// EnqueueBatch adds multiple jobs to the queue atomically.
func (q *Queue) EnqueueBatch(ctx context.Context, jobs []*domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()
	now := time.Now()

	for _, job := range jobs {
		if job == nil {
			continue
		}

		jobData, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
		}

		pipe.Set(ctx, jobKeyPrefix+job.ID, jobData, jobDataTTL)

		if job.ScheduledFor.After(now) {
			pipe.ZAdd(ctx, scheduledJobs, redis.Z{
				Score:  float64(job.ScheduledFor.Unix()),
				Member: job.ID,
			})
		} else {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: jobStream,
				Values: streamValues(job),
			})
		}
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to enqueue batch: %w", err)
	}

	return nil
}

// DequeueWithTimeout retrieves the next available job, waiting up to timeout seconds.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Job, error) {
	// Promote due scheduled jobs first, best effort
	if err := q.promoteScheduledJobs(ctx); err != nil {
		_ = err
	}

	// Try to claim jobs abandoned by crashed workers
	job, err := q.claimAbandonedJob(ctx)
	if err == nil && job != nil {
		return job, nil
	}

	blockDuration := time.Duration(timeout) * time.Second
	if timeout == 0 {
		blockDuration = 0 // Block forever
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    jobGroup,
		Consumer: q.consumerName,
		Streams:  []string{jobStream, ">"},
		Count:    1,
		Block:    blockDuration,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // No jobs available
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	msg := streams[0].Messages[0]
	jobID, ok := msg.Values["job_id"].(string)
	if !ok {
		// Invalid message, acknowledge and skip
		q.client.XAck(ctx, jobStream, jobGroup, msg.ID)
		return nil, nil
	}

	job, err = q.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Job data expired, acknowledge and skip
			q.client.XAck(ctx, jobStream, jobGroup, msg.ID)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job data: %w", err)
	}

	job.MarkProcessing()

	// Store updated job and message ID for ack/nack
	jobData, _ := json.Marshal(job)
	q.client.Set(ctx, jobKeyPrefix+job.ID, jobData, jobDataTTL)
	q.client.Set(ctx, jobKeyPrefix+job.ID+":msg", msg.ID, jobDataTTL)

	return job, nil
}

// Ack acknowledges successful completion of a job.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	msgID, err := q.client.Get(ctx, jobKeyPrefix+jobID+":msg").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get message ID: %w", err)
	}

	pipe := q.client.Pipeline()

	if msgID != "" {
		pipe.XAck(ctx, jobStream, jobGroup, msgID)
		pipe.XDel(ctx, jobStream, msgID)
	}

	job, err := q.Get(ctx, jobID)
	if err == nil {
		job.MarkCompleted()
		jobData, _ := json.Marshal(job)
		pipe.Set(ctx, jobKeyPrefix+jobID, jobData, jobDataTTL)
	}

	pipe.Del(ctx, jobKeyPrefix+jobID+":msg")

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}

	return nil
}

// Nack reschedules a job after a retryable failure. The job goes back
// through the scheduled set with exponential backoff; once the retry
// budget is exhausted it is marked failed instead.
func (q *Queue) Nack(ctx context.Context, jobID, reason string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	msgID, _ := q.client.Get(ctx, jobKeyPrefix+jobID+":msg").Result()

	pipe := q.client.Pipeline()

	// Acknowledge the current message; the retry re-enters via the
	// scheduled set
	if msgID != "" {
		pipe.XAck(ctx, jobStream, jobGroup, msgID)
		pipe.XDel(ctx, jobStream, msgID)
	}

	if job.CanRetry() {
		job.Retry(reason)
		jobData, _ := json.Marshal(job)
		pipe.Set(ctx, jobKeyPrefix+jobID, jobData, jobDataTTL)

		pipe.ZAdd(ctx, scheduledJobs, redis.Z{
			Score:  float64(job.ScheduledFor.Unix()),
			Member: job.ID,
		})
	} else {
		job.MarkFailed(reason)
		jobData, _ := json.Marshal(job)
		pipe.Set(ctx, jobKeyPrefix+jobID, jobData, jobDataTTL)
	}

	pipe.Del(ctx, jobKeyPrefix+jobID+":msg")

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to nack job: %w", err)
	}

	return nil
}

// Fail marks a job permanently failed, regardless of remaining retries.
func (q *Queue) Fail(ctx context.Context, jobID, reason string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	msgID, _ := q.client.Get(ctx, jobKeyPrefix+jobID+":msg").Result()

	pipe := q.client.Pipeline()

	if msgID != "" {
		pipe.XAck(ctx, jobStream, jobGroup, msgID)
		pipe.XDel(ctx, jobStream, msgID)
	}

	pipe.ZRem(ctx, scheduledJobs, jobID)

	job.MarkFailed(reason)
	jobData, _ := json.Marshal(job)
	pipe.Set(ctx, jobKeyPrefix+jobID, jobData, jobDataTTL)
	pipe.Del(ctx, jobKeyPrefix+jobID+":msg")

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	return nil
}

// Get retrieves a job by ID.
func (q *Queue) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	data, err := q.client.Get(ctx, jobKeyPrefix+jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// Stats returns queue statistics.
// Completed/failed counts require a key scan, so calls should be rate
// limited by the operator surface.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	// Pending count from the stream
	info, err := q.client.XInfoStream(ctx, jobStream).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		if !isStreamNotExistsError(err) {
			return nil, fmt.Errorf("failed to get stream info: %w", err)
		}
	} else if err == nil {
		stats.PendingCount = int64(info.Length)
	}

	// Scheduled jobs count as pending too
	scheduledCount, err := q.client.ZCard(ctx, scheduledJobs).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get scheduled count: %w", err)
	}
	stats.PendingCount += scheduledCount

	// Processing count from the consumer group
	groups, err := q.client.XInfoGroups(ctx, jobStream).Result()
	if err == nil {
		for _, group := range groups {
			if group.Name == jobGroup {
				stats.ProcessingCount = int64(group.Pending)
				break
			}
		}
	}

	var oldestPending time.Time

	var cursor uint64
	pattern := jobKeyPrefix + "*"

	for {
		keys, newCursor, err := q.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			break
		}

		for _, key := range keys {
			if len(key) > 4 && key[len(key)-4:] == ":msg" {
				continue
			}

			data, _ := q.client.Get(ctx, key).Result()
			var job domain.Job
			if json.Unmarshal([]byte(data), &job) != nil {
				continue
			}
			switch job.Status {
			case domain.JobStatusCompleted:
				stats.CompletedCount++
			case domain.JobStatusFailed:
				stats.FailedCount++
			case domain.JobStatusPending:
				if oldestPending.IsZero() || job.CreatedAt.Before(oldestPending) {
					oldestPending = job.CreatedAt
				}
			}
		}

		cursor = newCursor
		if cursor == 0 {
			break
		}
	}

	if !oldestPending.IsZero() {
		stats.OldestPendingAge = int64(time.Since(oldestPending).Seconds())
	}

	return stats, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close cleans up resources.
func (q *Queue) Close() error {
	// Redis client is shared, don't close it here
	return nil
}

// promoteScheduledJobs moves due scheduled jobs to the main stream.
func (q *Queue) promoteScheduledJobs(ctx context.Context) error {
	now := time.Now().Unix()

	due, err := q.client.ZRangeByScore(ctx, scheduledJobs, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return err
	}

	if len(due) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()

	for _, jobID := range due {
		job, err := q.Get(ctx, jobID)
		if err != nil {
			pipe.ZRem(ctx, scheduledJobs, jobID)
			continue
		}

		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: jobStream,
			Values: streamValues(job),
		})
		pipe.ZRem(ctx, scheduledJobs, jobID)
	}

	_, err = pipe.Exec(ctx)
	return err
}

// claimAbandonedJob tries to claim a job abandoned by another worker.
func (q *Queue) claimAbandonedJob(ctx context.Context) (*domain.Job, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: jobStream,
		Group:  jobGroup,
		Start:  "-",
		End:    "+",
		Count:  10,
		Idle:   claimTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, p := range pending {
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   jobStream,
			Group:    jobGroup,
			Consumer: q.consumerName,
			MinIdle:  claimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue
		}

		msg := claimed[0]
		jobID, ok := msg.Values["job_id"].(string)
		if !ok {
			q.client.XAck(ctx, jobStream, jobGroup, msg.ID)
			q.client.XDel(ctx, jobStream, msg.ID)
			continue
		}

		job, err := q.Get(ctx, jobID)
		if err != nil {
			q.client.XAck(ctx, jobStream, jobGroup, msg.ID)
			q.client.XDel(ctx, jobStream, msg.ID)
			continue
		}

		job.MarkProcessing()
		jobData, _ := json.Marshal(job)
		q.client.Set(ctx, jobKeyPrefix+job.ID, jobData, jobDataTTL)
		q.client.Set(ctx, jobKeyPrefix+job.ID+":msg", msg.ID, jobDataTTL)

		return job, nil
	}

	return nil, nil
}

// streamValues builds the routing envelope carried on the stream entry.
// The full job payload lives in the job key; the stream only carries
// enough to locate it.
func streamValues(job *domain.Job) map[string]interface{} {
	return map[string]interface{}{
		"job_id":      job.ID,
		"kind":        string(job.Kind),
		"backend_id":  job.BackendID,
		"entity_type": job.EntityType,
		"priority":    job.Priority,
	}
}

// Helper functions

func isGroupExistsError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

func isStreamNotExistsError(err error) bool {
	return err != nil && (err.Error() == "ERR no such key" ||
		err.Error() == "ERR The XINFO subcommand requires the key to exist")
}
