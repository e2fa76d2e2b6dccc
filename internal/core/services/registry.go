package services

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

// Pipeline bundles everything needed to synchronize one entity type
// against one backend instance.
type Pipeline struct {
	Backend    *domain.Backend
	Descriptor *domain.Descriptor
	Client     driven.BackendClient
	Binder     *Binder
	Mapper     *Mapper
	Importer   *Importer
	Exporter   *Exporter
}

// RegistryConfig holds the shared collaborators pipelines are built from.
type RegistryConfig struct {
	Bindings driven.BindingStore
	Records  driven.RecordStore
	Jobs     driven.JobQueue
	Lock     driven.RecordLock
	Logger   *slog.Logger

	// LockTTL bounds how long a crashed exporter can starve a record.
	LockTTL time.Duration

	// LockWait, when non-zero, makes contested lock acquisition poll up
	// to this long instead of failing fast.
	LockWait time.Duration
}

// Registry is the static table mapping (backend, entity type) to a
// pipeline. It is populated once at startup and read-only afterwards, so
// lookups need no locking.
type Registry struct {
	cfg       RegistryConfig
	logger    *slog.Logger
	pipelines map[string]*Pipeline
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Registry{
		cfg:       cfg,
		logger:    logger,
		pipelines: make(map[string]*Pipeline),
	}
}

func pipelineKey(backendID, entityType string) string {
	return backendID + "/" + entityType
}

// Register builds and stores the pipeline for one backend/entity pair.
// Must be called during startup, before any worker runs.
func (r *Registry) Register(backend *domain.Backend, desc *domain.Descriptor, client driven.BackendClient) *Pipeline {
	binder := NewBinder(r.cfg.Bindings, backend.ID, desc.EntityType)
	mapper := NewMapper(desc)

	p := &Pipeline{
		Backend:    backend,
		Descriptor: desc,
		Client:     client,
		Binder:     binder,
		Mapper:     mapper,
	}
	p.Importer = &Importer{
		pipeline: p,
		registry: r,
		records:  r.cfg.Records,
		bindings: r.cfg.Bindings,
		jobs:     r.cfg.Jobs,
		logger:   r.logger.With("backend_id", backend.ID, "entity_type", desc.EntityType),
	}
	p.Exporter = &Exporter{
		pipeline: p,
		registry: r,
		records:  r.cfg.Records,
		jobs:     r.cfg.Jobs,
		lock:     r.cfg.Lock,
		lockTTL:  r.cfg.LockTTL,
		lockWait: r.cfg.LockWait,
		logger:   r.logger.With("backend_id", backend.ID, "entity_type", desc.EntityType),
		now:      time.Now,
	}

	r.pipelines[pipelineKey(backend.ID, desc.EntityType)] = p
	return p
}

// Lookup resolves the pipeline for a backend/entity pair.
func (r *Registry) Lookup(backendID, entityType string) (*Pipeline, error) {
	p, ok := r.pipelines[pipelineKey(backendID, entityType)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", backendID, entityType, domain.ErrPipelineNotFound)
	}
	return p, nil
}

// Pipelines returns all registered pipelines for one entity type, across
// backends. Used by the listener to fan record events out to every
// backend the entity syncs with.
func (r *Registry) Pipelines(entityType string) []*Pipeline {
	var out []*Pipeline
	for _, p := range r.pipelines {
		if p.Descriptor.EntityType == entityType {
			out = append(out, p)
		}
	}
	return out
}

// Backends returns the distinct backends with registered pipelines.
func (r *Registry) Backends() []*domain.Backend {
	seen := make(map[string]bool)
	var out []*domain.Backend
	for _, p := range r.pipelines {
		if !seen[p.Backend.ID] {
			seen[p.Backend.ID] = true
			out = append(out, p.Backend)
		}
	}
	return out
}
