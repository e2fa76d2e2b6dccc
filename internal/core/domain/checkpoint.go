package domain

import "time"

// Checkpoint is a flagged record awaiting manual operator review. Every
// fatal failure tied to a specific record produces one instead of being
// silently dropped.
type Checkpoint struct {
	ID          string    `json:"id"`
	BackendID   string    `json:"backend_id"`
	EntityType  string    `json:"entity_type"`
	LocalID     string    `json:"local_id,omitempty"`
	ExternalKey string    `json:"external_key,omitempty"`
	Reason      string    `json:"reason"`
	Error       string    `json:"error,omitempty"`
	Resolved    bool      `json:"resolved"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewCheckpoint creates an unresolved checkpoint.
func NewCheckpoint(backendID, entityType, reason string) *Checkpoint {
	return &Checkpoint{
		ID:         GenerateID(),
		BackendID:  backendID,
		EntityType: entityType,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
}
