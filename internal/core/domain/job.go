package domain

import (
	"time"
)

// JobKind identifies the type of synchronization job.
type JobKind string

const (
	// JobImportRecord imports one external record by external key
	JobImportRecord JobKind = "import_record"
	// JobImportBatch fans out one import job per external id matching Filters
	JobImportBatch JobKind = "import_batch"
	// JobExportRecord exports one local record by local id
	JobExportRecord JobKind = "export_record"
	// JobDeleteRecord removes the local counterpart of a deleted external record
	JobDeleteRecord JobKind = "delete_record"
)

// JobStatus represents the current state of a job in the queue.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is a deferred unit of synchronization work. Jobs are idempotent at
// the record level: re-running an import or export for the same key
// converges rather than duplicates.
type Job struct {
	// ID is the unique identifier for this job
	ID string `json:"id"`

	// Kind identifies what kind of job this is
	Kind JobKind `json:"kind"`

	// BackendID selects the backend instance
	BackendID string `json:"backend_id"`

	// EntityType selects the pipeline
	EntityType string `json:"entity_type"`

	// ExternalKey targets import_record and delete_record jobs
	ExternalKey string `json:"external_key,omitempty"`

	// LocalID targets export_record jobs
	LocalID string `json:"local_id,omitempty"`

	// Force makes an import overwrite regardless of local state
	Force bool `json:"force,omitempty"`

	// Fields is the changed-field set for export_record jobs; nil means
	// all fields are considered changed
	Fields []string `json:"fields,omitempty"`

	// Filters selects external ids for import_batch jobs
	Filters map[string]any `json:"filters,omitempty"`

	// Status is the current state of the job
	Status JobStatus `json:"status"`

	// Priority determines processing order (higher = more urgent)
	Priority int `json:"priority"`

	// Attempts is how many times this job has been attempted
	Attempts int `json:"attempts"`

	// MaxAttempts is the retry budget before the job is failed
	MaxAttempts int `json:"max_attempts"`

	// Error contains the last error message if failed
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// StartedAt is when processing began (nil if not started)
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when processing finished (nil if not complete)
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ScheduledFor is when the job should be processed (for delayed jobs)
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewJob creates a job with default bookkeeping values.
func NewJob(kind JobKind, backendID, entityType string) *Job {
	now := time.Now()
	return &Job{
		ID:           GenerateID(),
		Kind:         kind,
		BackendID:    backendID,
		EntityType:   entityType,
		Status:       JobStatusPending,
		MaxAttempts:  5,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// NewImportJob creates a job to import one external record.
func NewImportJob(backendID, entityType, externalKey string, force bool) *Job {
	j := NewJob(JobImportRecord, backendID, entityType)
	j.ExternalKey = externalKey
	j.Force = force
	return j
}

// NewBatchImportJob creates a job that fans out imports for every external
// id matching filters.
func NewBatchImportJob(backendID, entityType string, filters map[string]any) *Job {
	j := NewJob(JobImportBatch, backendID, entityType)
	j.Filters = filters
	return j
}

// NewExportJob creates a job to export one local record. fields carries the
// changed-field set; nil exports everything.
func NewExportJob(backendID, entityType, localID string, fields []string) *Job {
	j := NewJob(JobExportRecord, backendID, entityType)
	j.LocalID = localID
	j.Fields = fields
	return j
}

// NewDeleteJob creates a job to remove the local counterpart of a deleted
// external record.
func NewDeleteJob(backendID, entityType, externalKey string) *Job {
	j := NewJob(JobDeleteRecord, backendID, entityType)
	j.ExternalKey = externalKey
	return j
}

// CanRetry returns true if the job has retry budget left.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// IsReady returns true if the job is ready to be processed.
func (j *Job) IsReady() bool {
	return j.Status == JobStatusPending && time.Now().After(j.ScheduledFor)
}

// MarkProcessing updates the job to processing state.
func (j *Job) MarkProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
	j.Attempts++
}

// MarkCompleted updates the job to completed state.
func (j *Job) MarkCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.Error = ""
}

// MarkFailed updates the job to failed state.
func (j *Job) MarkFailed(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.UpdatedAt = now
	j.Error = err
}

// Retry resets the job for another attempt with exponential backoff.
func (j *Job) Retry(err string) {
	now := time.Now()
	j.Status = JobStatusPending
	j.UpdatedAt = now
	j.Error = err

	backoff := time.Duration(1<<j.Attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	j.ScheduledFor = now.Add(backoff)
}
