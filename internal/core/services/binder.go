package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

// Binder translates between local and external identities for one
// backend/entity pair. It owns conflict-free create-or-find semantics on
// top of the binding store's uniqueness constraints.
type Binder struct {
	store      driven.BindingStore
	backendID  string
	entityType string
	now        func() time.Time
}

// NewBinder creates a binder scoped to one backend and entity type.
func NewBinder(store driven.BindingStore, backendID, entityType string) *Binder {
	return &Binder{
		store:      store,
		backendID:  backendID,
		entityType: entityType,
		now:        time.Now,
	}
}

// ToLocal looks up the binding for an external identity. Zero matches
// returns nil, nil. More than one match is a data-integrity fault: the
// uniqueness constraint should make it impossible.
func (b *Binder) ToLocal(ctx context.Context, externalID string) (*domain.Binding, error) {
	matches, err := b.store.FindByExternal(ctx, b.backendID, b.entityType, externalID)
	if err != nil {
		return nil, fmt.Errorf("find binding by external id: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%d bindings for %s %s/%s: %w",
			len(matches), b.backendID, b.entityType, externalID, domain.ErrIntegrityFault)
	}
}

// ToExternal returns the external id bound to a local record, or nil if
// the record is unbound or has no binding. The external id "0" is a valid
// identity, distinct from nil.
func (b *Binder) ToExternal(ctx context.Context, localID string) (*string, error) {
	binding, err := b.store.GetByLocal(ctx, b.backendID, b.entityType, localID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get binding by local id: %w", err)
	}
	return binding.ExternalID, nil
}

// Bind upserts the binding's external id and refreshes sync_date. The
// binding is created if the local record was never bound.
func (b *Binder) Bind(ctx context.Context, localID, externalID string) (*domain.Binding, error) {
	binding, err := b.EnsureBinding(ctx, localID)
	if err != nil {
		return nil, err
	}
	if err := b.store.SetExternalID(ctx, binding.ID, externalID, b.now()); err != nil {
		return nil, fmt.Errorf("bind %s to %s: %w", localID, externalID, err)
	}
	binding.ExternalID = &externalID
	t := b.now()
	binding.SyncDate = &t
	return binding, nil
}

// EnsureBinding is the idempotent create-or-fetch: it looks for an
// existing binding by local identity first, creating an unbound one if
// absent. Two workers racing to create the same binding trip the
// uniqueness constraint; the loser re-fetches the winner's row, and if it
// is not yet visible the failure is converted into a retryable error.
func (b *Binder) EnsureBinding(ctx context.Context, localID string) (*domain.Binding, error) {
	binding, err := b.store.GetByLocal(ctx, b.backendID, b.entityType, localID)
	if err == nil {
		return binding, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get binding by local id: %w", err)
	}

	fresh := domain.NewBinding(b.backendID, b.entityType, localID)
	err = b.store.Create(ctx, fresh)
	if err == nil {
		return fresh, nil
	}
	if !errors.Is(err, domain.ErrDuplicateBinding) {
		return nil, fmt.Errorf("create binding: %w", err)
	}

	// Lost the race: the other worker's binding should be there now.
	binding, err = b.store.GetByLocal(ctx, b.backendID, b.entityType, localID)
	if err != nil {
		return nil, domain.Retryablef("binding for %s/%s created concurrently and not yet visible",
			b.entityType, localID)
	}
	return binding, nil
}

// Touch refreshes the binding's sync_date after a pass that wrote nothing
// new but confirmed consistency.
func (b *Binder) Touch(ctx context.Context, bindingID string) error {
	return b.store.Touch(ctx, bindingID, b.now())
}
