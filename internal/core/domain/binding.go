package domain

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// Binding is the unit of synchronization identity: the persisted mapping
// between a local record and its counterpart on an external backend.
//
// ExternalID is a pointer because "0" is a legitimate external identity on
// some backends. Absence of a counterpart is nil, never the empty or zero
// value.
type Binding struct {
	// ID is the surrogate identifier, also used as the export lock key
	ID string `json:"id"`

	// BackendID identifies which backend instance this binding belongs to
	BackendID string `json:"backend_id"`

	// EntityType relates the local/external entity pair
	EntityType string `json:"entity_type"`

	// LocalID is the identifier of the local record
	LocalID string `json:"local_id"`

	// ExternalID is the identifier of the external record, nil if the
	// record has never been pushed or matched
	ExternalID *string `json:"external_id,omitempty"`

	// SyncDate is the last time this binding was known consistent with the
	// external record, nil if never synchronized
	SyncDate *time.Time `json:"sync_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBinding creates an unbound binding for a local record.
func NewBinding(backendID, entityType, localID string) *Binding {
	now := time.Now()
	return &Binding{
		ID:         GenerateID(),
		BackendID:  backendID,
		EntityType: entityType,
		LocalID:    localID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Bound reports whether the binding has an external counterpart.
func (b *Binding) Bound() bool {
	return b.ExternalID != nil
}

// External returns the external id and whether one is set.
func (b *Binding) External() (string, bool) {
	if b.ExternalID == nil {
		return "", false
	}
	return *b.ExternalID, true
}

// Synced reports whether the binding has ever completed a sync.
func (b *Binding) Synced() bool {
	return b.SyncDate != nil
}
