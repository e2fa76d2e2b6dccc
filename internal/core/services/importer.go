package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

// Importer pulls one external record into the local store: fetch, resolve
// dependencies, map fields, create or update the local record, maintain
// the binding, run hooks.
type Importer struct {
	pipeline *Pipeline
	registry *Registry
	records  driven.RecordStore
	bindings driven.BindingStore
	jobs     driven.JobQueue
	logger   *slog.Logger
}

// Run imports the external record identified by externalKey.
//
// If the record no longer exists upstream the import is skipped, not
// failed, unless require is set (dependency imports require existence).
// Dependency failures propagate as retryable errors so the whole job is
// rescheduled rather than partially completed.
func (i *Importer) Run(ctx context.Context, externalKey string, force, require bool) (*domain.Binding, error) {
	desc := i.pipeline.Descriptor

	raw, err := i.pipeline.Client.Read(ctx, desc.ExternalEntity, externalKey)
	if errors.Is(err, domain.ErrNotFound) {
		if require {
			return nil, fmt.Errorf("required %s %q absent upstream: %w", desc.EntityType, externalKey, err)
		}
		i.logger.Info("external record gone, skipping import", "external_key", externalKey)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s %q: %w", desc.ExternalEntity, externalKey, err)
	}

	// Backends may resolve reads through aliases (article numbers,
	// legacy ids). Bindings always store the canonical key from the
	// record itself, so the same record never binds twice.
	if canonical, ok := externalKeyOf(desc, raw); ok && canonical != externalKey {
		i.logger.Debug("external key normalized", "requested", externalKey, "canonical", canonical)
		externalKey = canonical
	}

	deps, err := i.resolveDependencies(ctx, raw)
	if err != nil {
		return nil, err
	}

	existing, err := i.pipeline.Binder.ToLocal(ctx, externalKey)
	if err != nil {
		return nil, err
	}
	isCreate := existing == nil

	fields, err := i.pipeline.Mapper.MapImport(raw, deps, isCreate)
	if err != nil {
		return nil, err
	}
	if desc.Validate != nil {
		if verr := desc.Validate(fields); verr != nil {
			if domain.IsValidation(verr) {
				return nil, verr
			}
			return nil, domain.Validation(desc.EntityType, "", verr.Error())
		}
	}

	// The core's own writes must not re-trigger synchronization.
	wctx := domain.SuppressSync(ctx)

	var binding *domain.Binding
	var localID string
	if isCreate {
		localID, err = i.records.Create(wctx, desc.EntityType, fields)
		if err != nil {
			return nil, fmt.Errorf("create local %s: %w", desc.EntityType, err)
		}
		binding, err = i.pipeline.Binder.Bind(wctx, localID, externalKey)
		if err != nil {
			return nil, err
		}
		if desc.Hooks.PostCreate != nil {
			rec := &domain.Record{EntityType: desc.EntityType, ID: localID, Fields: fields}
			if err := desc.Hooks.PostCreate(wctx, rec); err != nil {
				return nil, fmt.Errorf("post-create hook: %w", err)
			}
		}
		i.logger.Info("imported new record", "external_key", externalKey, "local_id", localID)
	} else {
		localID = existing.LocalID
		if err := i.records.Update(wctx, desc.EntityType, localID, fields); err != nil {
			return nil, fmt.Errorf("update local %s %s: %w", desc.EntityType, localID, err)
		}
		binding, err = i.pipeline.Binder.Bind(wctx, localID, externalKey)
		if err != nil {
			return nil, err
		}
		i.logger.Debug("re-imported record", "external_key", externalKey, "local_id", localID, "force", force)
	}

	if desc.Hooks.PostImport != nil {
		rec := &domain.Record{EntityType: desc.EntityType, ID: localID, Fields: fields}
		if err := desc.Hooks.PostImport(wctx, rec, raw); err != nil {
			return nil, fmt.Errorf("post-import hook: %w", err)
		}
	}

	return binding, nil
}

// RunBatch lists external ids matching filters and enqueues one import job
// per id. Fan-out instead of inline imports bounds memory and lets the
// records import in parallel.
func (i *Importer) RunBatch(ctx context.Context, filters map[string]any) (int, error) {
	desc := i.pipeline.Descriptor

	ids, err := i.pipeline.Client.Search(ctx, desc.ExternalEntity, filters)
	if err != nil {
		return 0, fmt.Errorf("search %s: %w", desc.ExternalEntity, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	jobs := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, domain.NewImportJob(i.pipeline.Backend.ID, desc.EntityType, id, false))
	}
	if err := i.jobs.EnqueueBatch(ctx, jobs); err != nil {
		return 0, fmt.Errorf("enqueue batch imports: %w", err)
	}

	i.logger.Info("batch import fanned out", "count", len(ids))
	return len(ids), nil
}

// RunDelete removes the local counterpart of an external record that was
// deleted upstream. Missing bindings are fine: nothing to do.
func (i *Importer) RunDelete(ctx context.Context, externalKey string) error {
	desc := i.pipeline.Descriptor

	binding, err := i.pipeline.Binder.ToLocal(ctx, externalKey)
	if err != nil {
		return err
	}
	if binding == nil {
		return nil
	}

	wctx := domain.SuppressSync(ctx)
	if err := i.records.Delete(wctx, desc.EntityType, binding.LocalID); err != nil &&
		!errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete local %s %s: %w", desc.EntityType, binding.LocalID, err)
	}
	if err := i.bindings.Delete(ctx, binding.ID); err != nil {
		return fmt.Errorf("delete binding %s: %w", binding.ID, err)
	}

	i.logger.Info("deleted record after upstream removal", "external_key", externalKey, "local_id", binding.LocalID)
	return nil
}

// externalKeyOf reads the backend's primary key field out of a raw
// record. Zero is a valid numeric key, so only a missing or empty value
// reports false.
func externalKeyOf(desc *domain.Descriptor, raw map[string]any) (string, bool) {
	if desc.KeyField == "" {
		return "", false
	}
	switch v := raw[desc.KeyField].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	}
	return "", false
}

// resolveDependencies imports every referenced entity that is not yet
// bound, recursively. Dependencies are declared statically per entity type
// and must not be mutually recursive, so this terminates.
func (i *Importer) resolveDependencies(ctx context.Context, raw map[string]any) (map[string]*domain.Binding, error) {
	deps := make(map[string]*domain.Binding)
	for _, dep := range i.pipeline.Descriptor.Dependencies {
		if dep.ExternalKey == nil {
			continue
		}
		key, ok := dep.ExternalKey(raw)
		if !ok {
			if dep.Required {
				return nil, domain.IdentityMissing(dep.EntityType, "")
			}
			continue
		}

		depPipeline, err := i.registry.Lookup(i.pipeline.Backend.ID, dep.EntityType)
		if err != nil {
			return nil, err
		}

		binding, err := depPipeline.Binder.ToLocal(ctx, key)
		if err != nil {
			return nil, err
		}
		if binding == nil {
			binding, err = depPipeline.Importer.Run(ctx, key, false, true)
			if err != nil {
				if domain.IsRetryable(err) {
					return nil, err
				}
				return nil, domain.Retryable(fmt.Errorf("import dependency %s %q: %w", dep.EntityType, key, err))
			}
		}
		deps[dep.EntityType] = binding
	}
	return deps, nil
}
