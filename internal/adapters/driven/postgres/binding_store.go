package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.BindingStore = (*BindingStore)(nil)

// BindingStore implements driven.BindingStore using PostgreSQL. The two
// partial unique indexes carry the binding invariant; constraint
// violations surface as domain.ErrDuplicateBinding for the binder to
// classify.
type BindingStore struct {
	db *DB
}

// NewBindingStore creates a new BindingStore
func NewBindingStore(db *DB) *BindingStore {
	return &BindingStore{db: db}
}

const bindingColumns = `id, backend_id, entity_type, local_id, external_id, sync_date, created_at, updated_at`

// Create persists a new binding.
func (s *BindingStore) Create(ctx context.Context, b *domain.Binding) error {
	query := `
		INSERT INTO bindings (` + bindingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		b.ID,
		b.BackendID,
		b.EntityType,
		b.LocalID,
		NullString(b.ExternalID),
		NullTime(b.SyncDate),
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.ErrDuplicateBinding
		}
		return fmt.Errorf("insert binding: %w", err)
	}
	return nil
}

// Get retrieves a binding by surrogate id.
func (s *BindingStore) Get(ctx context.Context, id string) (*domain.Binding, error) {
	query := `SELECT ` + bindingColumns + ` FROM bindings WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// GetByLocal retrieves the binding for a local record.
func (s *BindingStore) GetByLocal(ctx context.Context, backendID, entityType, localID string) (*domain.Binding, error) {
	query := `
		SELECT ` + bindingColumns + ` FROM bindings
		WHERE backend_id = $1 AND entity_type = $2 AND local_id = $3
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, backendID, entityType, localID))
}

// FindByExternal returns all bindings matching an external identity. The
// unique index should make more than one row impossible; the binder
// classifies that case, so no LIMIT here.
func (s *BindingStore) FindByExternal(ctx context.Context, backendID, entityType, externalID string) ([]*domain.Binding, error) {
	query := `
		SELECT ` + bindingColumns + ` FROM bindings
		WHERE backend_id = $1 AND entity_type = $2 AND external_id = $3
	`
	rows, err := s.db.QueryContext(ctx, query, backendID, entityType, externalID)
	if err != nil {
		return nil, fmt.Errorf("query bindings: %w", err)
	}
	defer rows.Close()

	var result []*domain.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// SetExternalID upserts the external id and refreshes sync_date.
func (s *BindingStore) SetExternalID(ctx context.Context, id, externalID string, syncDate time.Time) error {
	query := `
		UPDATE bindings
		SET external_id = $1, sync_date = $2, updated_at = NOW()
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, externalID, syncDate, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.ErrDuplicateBinding
		}
		return fmt.Errorf("update binding: %w", err)
	}
	return requireRow(result)
}

// Touch refreshes sync_date.
func (s *BindingStore) Touch(ctx context.Context, id string, syncDate time.Time) error {
	query := `UPDATE bindings SET sync_date = $1, updated_at = NOW() WHERE id = $2`
	result, err := s.db.ExecContext(ctx, query, syncDate, id)
	if err != nil {
		return fmt.Errorf("touch binding: %w", err)
	}
	return requireRow(result)
}

// List returns the bindings of one backend/entity pair.
func (s *BindingStore) List(ctx context.Context, backendID, entityType string, limit int) ([]*domain.Binding, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + bindingColumns + ` FROM bindings
		WHERE backend_id = $1 AND entity_type = $2
		ORDER BY updated_at DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, backendID, entityType, limit)
	if err != nil {
		return nil, fmt.Errorf("query bindings: %w", err)
	}
	defer rows.Close()

	var result []*domain.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// Delete removes a binding.
func (s *BindingStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bindings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	return nil
}

func (s *BindingStore) scanOne(row *sql.Row) (*domain.Binding, error) {
	var b domain.Binding
	var externalID sql.NullString
	var syncDate sql.NullTime

	err := row.Scan(&b.ID, &b.BackendID, &b.EntityType, &b.LocalID,
		&externalID, &syncDate, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan binding: %w", err)
	}
	b.ExternalID = StringPtr(externalID)
	b.SyncDate = TimePtr(syncDate)
	return &b, nil
}

func scanBinding(rows *sql.Rows) (*domain.Binding, error) {
	var b domain.Binding
	var externalID sql.NullString
	var syncDate sql.NullTime

	if err := rows.Scan(&b.ID, &b.BackendID, &b.EntityType, &b.LocalID,
		&externalID, &syncDate, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan binding: %w", err)
	}
	b.ExternalID = StringPtr(externalID)
	b.SyncDate = TimePtr(syncDate)
	return &b, nil
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
