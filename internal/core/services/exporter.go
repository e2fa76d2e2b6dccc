package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

// lockPollInterval is how often a waiting exporter re-checks a contested
// lock when LockWait is configured.
const lockPollInterval = 100 * time.Millisecond

// Exporter pushes one local binding to the external system. Before writing
// it checks for external-side drift so local changes never silently
// overwrite newer external state, and serializes concurrent exporters of
// the same record through a non-blocking per-binding lock.
type Exporter struct {
	pipeline *Pipeline
	registry *Registry
	records  driven.RecordStore
	jobs     driven.JobQueue
	lock     driven.RecordLock
	lockTTL  time.Duration
	lockWait time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Run exports the local record identified by localID. changed carries the
// changed-field set from the triggering write; nil means everything.
func (e *Exporter) Run(ctx context.Context, localID string, changed []string) error {
	desc := e.pipeline.Descriptor

	rec, err := e.records.Get(ctx, desc.EntityType, localID)
	if errors.Is(err, domain.ErrNotFound) {
		e.logger.Info("local record gone, skipping export", "local_id", localID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get local %s %s: %w", desc.EntityType, localID, err)
	}

	binding, err := e.pipeline.Binder.EnsureBinding(ctx, localID)
	if err != nil {
		return err
	}

	externalID, bound := binding.External()
	if bound {
		drifted, stillExists, err := e.checkDrift(ctx, binding, externalID)
		if err != nil {
			return err
		}
		if drifted {
			// The backend moved first. Abort the push and pull instead.
			job := domain.NewImportJob(e.pipeline.Backend.ID, desc.EntityType, externalID, true)
			if err := e.jobs.Enqueue(ctx, job); err != nil {
				return fmt.Errorf("enqueue forced import: %w", err)
			}
			e.logger.Info("external record newer, import scheduled instead of export",
				"local_id", localID, "external_id", externalID)
			return nil
		}
		if !stillExists {
			// Deleted upstream: treat as never synchronized and recreate.
			bound = false
		}
	}

	deps, err := e.exportDependencies(ctx, rec)
	if err != nil {
		return err
	}

	lockName := "export:" + binding.ID
	if err := e.acquireLock(ctx, lockName); err != nil {
		return err
	}
	defer func() {
		if rerr := e.lock.Release(context.WithoutCancel(ctx), lockName); rerr != nil {
			e.logger.Warn("failed to release export lock", "lock", lockName, "error", rerr)
		}
	}()

	isCreate := !bound
	payload, err := e.pipeline.Mapper.MapExport(rec, deps, changed, isCreate)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		// No rule produced a value. Covers updates where no gated field
		// changed and import-only entities, which must never create an
		// empty external record.
		e.logger.Debug("nothing to export", "local_id", localID, "external_id", externalID, "create", isCreate)
		return nil
	}
	if desc.Validate != nil {
		if verr := desc.Validate(payload); verr != nil {
			if domain.IsValidation(verr) {
				return verr
			}
			return domain.Validation(desc.EntityType, "", verr.Error())
		}
	}

	if isCreate {
		newID, err := e.pipeline.Client.Create(ctx, desc.ExternalEntity, payload)
		if err != nil {
			return fmt.Errorf("create external %s: %w", desc.ExternalEntity, err)
		}
		binding, err = e.pipeline.Binder.Bind(ctx, localID, newID)
		if err != nil {
			return err
		}
		e.logger.Info("exported new record", "local_id", localID, "external_id", newID)
	} else {
		if err := e.pipeline.Client.Update(ctx, desc.ExternalEntity, externalID, payload); err != nil {
			return fmt.Errorf("update external %s %s: %w", desc.ExternalEntity, externalID, err)
		}
		if err := e.pipeline.Binder.Touch(ctx, binding.ID); err != nil {
			return fmt.Errorf("touch binding %s: %w", binding.ID, err)
		}
		e.logger.Debug("exported record update", "local_id", localID, "external_id", externalID,
			"fields", len(payload))
	}

	if desc.Hooks.PostExport != nil {
		if err := desc.Hooks.PostExport(domain.SuppressSync(ctx), binding); err != nil {
			return fmt.Errorf("post-export hook: %w", err)
		}
	}
	return nil
}

// checkDrift compares the binding's sync_date against the external
// record's last-changed timestamp, reading only that attribute. Returns
// drifted=true when the external side changed after the last sync, and
// stillExists=false when the record is gone upstream.
func (e *Exporter) checkDrift(ctx context.Context, binding *domain.Binding, externalID string) (drifted, stillExists bool, err error) {
	desc := e.pipeline.Descriptor
	if desc.ChangeDateField == "" {
		return false, true, nil
	}

	fields, err := e.pipeline.Client.ReadFields(ctx, desc.ExternalEntity, externalID,
		[]string{desc.ChangeDateField})
	if errors.Is(err, domain.ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, true, fmt.Errorf("read change date of %s %s: %w", desc.ExternalEntity, externalID, err)
	}

	changedAt, ok := parseChangeDate(fields[desc.ChangeDateField])
	if !ok {
		// A record that changed without a timestamp would slip through
		// here; keep the original export-wins behavior but make the
		// condition visible.
		e.logger.Warn("external record has no usable change timestamp, proceeding with export",
			"external_id", externalID)
		return false, true, nil
	}

	if binding.SyncDate == nil || changedAt.After(*binding.SyncDate) {
		return true, true, nil
	}
	return false, true, nil
}

// exportDependencies ensures every referenced entity is bound, exporting
// it first if it has no external id yet. Each dependency's binding commits
// as soon as it is acquired, so a later failure in this job cannot lose an
// already-created external identity.
func (e *Exporter) exportDependencies(ctx context.Context, rec *domain.Record) (map[string]*domain.Binding, error) {
	deps := make(map[string]*domain.Binding)
	for _, dep := range e.pipeline.Descriptor.Dependencies {
		if dep.LocalID == nil {
			continue
		}
		depLocal, ok := dep.LocalID(rec)
		if !ok {
			if dep.Required {
				return nil, domain.IdentityMissing(dep.EntityType, "")
			}
			continue
		}

		depPipeline, err := e.registry.Lookup(e.pipeline.Backend.ID, dep.EntityType)
		if err != nil {
			return nil, err
		}

		depBinding, err := depPipeline.Binder.EnsureBinding(ctx, depLocal)
		if err != nil {
			return nil, err
		}
		if !depBinding.Bound() {
			if err := depPipeline.Exporter.Run(ctx, depLocal, nil); err != nil {
				return nil, fmt.Errorf("export dependency %s %s: %w", dep.EntityType, depLocal, err)
			}
			depBinding, err = depPipeline.Binder.EnsureBinding(ctx, depLocal)
			if err != nil {
				return nil, err
			}
		}
		deps[dep.EntityType] = depBinding
	}
	return deps, nil
}

// acquireLock takes the per-binding export lock. Contested locks fail fast
// with a retryable error unless LockWait is configured, in which case the
// exporter polls up to that long before giving up.
func (e *Exporter) acquireLock(ctx context.Context, name string) error {
	deadline := e.now().Add(e.lockWait)
	for {
		acquired, err := e.lock.Acquire(ctx, name, e.lockTTL)
		if err != nil {
			return domain.Retryable(fmt.Errorf("acquire %s: %w", name, err))
		}
		if acquired {
			return nil
		}
		if e.lockWait <= 0 || e.now().After(deadline) {
			return domain.Retryable(fmt.Errorf("%s: %w", name, domain.ErrLockHeld))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// parseChangeDate coerces a backend change timestamp into time.Time.
func parseChangeDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
	case float64:
		return time.Unix(int64(t), 0), true
	case int64:
		return time.Unix(t, 0), true
	}
	return time.Time{}, false
}
