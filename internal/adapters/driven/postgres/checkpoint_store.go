package postgres

import (
	"context"
	"fmt"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore implements driven.CheckpointStore using PostgreSQL
type CheckpointStore struct {
	db *DB
}

// NewCheckpointStore creates a new CheckpointStore
func NewCheckpointStore(db *DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Flag persists a checkpoint.
func (s *CheckpointStore) Flag(ctx context.Context, cp *domain.Checkpoint) error {
	query := `
		INSERT INTO checkpoints (id, backend_id, entity_type, local_id, external_key, reason, error, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		cp.ID,
		cp.BackendID,
		cp.EntityType,
		cp.LocalID,
		cp.ExternalKey,
		cp.Reason,
		cp.Error,
		cp.Resolved,
		cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// List returns checkpoints for a backend, newest first.
func (s *CheckpointStore) List(ctx context.Context, backendID string, unresolvedOnly bool, limit int) ([]*domain.Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, backend_id, entity_type, local_id, external_key, reason, error, resolved, created_at
		FROM checkpoints
		WHERE ($1 = '' OR backend_id = $1)
		  AND (NOT $2 OR NOT resolved)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, backendID, unresolvedOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var result []*domain.Checkpoint
	for rows.Next() {
		var cp domain.Checkpoint
		if err := rows.Scan(&cp.ID, &cp.BackendID, &cp.EntityType, &cp.LocalID,
			&cp.ExternalKey, &cp.Reason, &cp.Error, &cp.Resolved, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		result = append(result, &cp)
	}
	return result, rows.Err()
}

// Resolve marks a checkpoint handled.
func (s *CheckpointStore) Resolve(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE checkpoints SET resolved = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resolve checkpoint: %w", err)
	}
	return requireRow(result)
}
