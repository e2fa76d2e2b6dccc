package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven/mocks"
	"github.com/carebridge-labs/carebridge-core/internal/core/services"
)

type fixture struct {
	client      *mocks.MockBackend
	bindings    *mocks.MockBindingStore
	records     *mocks.MockRecordStore
	jobs        *mocks.MockJobQueue
	checkpoints *mocks.MockCheckpointStore
	registry    *services.Registry
	worker      *Worker
}

func newFixture() *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		client:      mocks.NewMockBackend(),
		bindings:    mocks.NewMockBindingStore(),
		records:     mocks.NewMockRecordStore(),
		jobs:        mocks.NewMockJobQueue(),
		checkpoints: mocks.NewMockCheckpointStore(),
	}
	f.registry = services.NewRegistry(services.RegistryConfig{
		Bindings: f.bindings,
		Records:  f.records,
		Jobs:     f.jobs,
		Lock:     mocks.NewMockRecordLock(),
		Logger:   logger,
	})
	backend := &domain.Backend{ID: "bk-1", Kind: "test", Name: "test", Enabled: true}
	f.registry.Register(backend, &domain.Descriptor{
		EntityType:     "partner",
		ExternalEntity: "Customer",
		KeyField:       "id",
		ImportRules: []domain.MappingRule{
			domain.Direct("name", "display_name"),
		},
		ExportRules: []domain.MappingRule{
			domain.Direct("display_name", "name"),
		},
		Validate: func(fields map[string]any) error {
			if name, ok := fields["name"]; ok && name == "" {
				return domain.Validation("partner", "name", "must not be empty")
			}
			return nil
		},
	}, f.client)

	f.worker = New(Config{
		JobQueue:    f.jobs,
		Registry:    f.registry,
		Checkpoints: f.checkpoints,
		Logger:      logger,
		Concurrency: 2,
	})
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorkerProcessesImportJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.client.Seed("Customer", "7", map[string]any{"display_name": "Apotheke Nord"})

	job := domain.NewImportJob("bk-1", "partner", "7", false)
	if err := f.jobs.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := f.worker.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.worker.Stop()

	waitFor(t, func() bool {
		j, err := f.jobs.Get(ctx, job.ID)
		return err == nil && j.Status == domain.JobStatusCompleted
	})

	binding, err := f.bindings.GetByLocal(ctx, "bk-1", "partner", "local-1")
	if err != nil {
		t.Fatalf("GetByLocal: %v", err)
	}
	if ext, _ := binding.External(); ext != "7" {
		t.Fatalf("expected binding to 7, got %q", ext)
	}
}

func TestWorkerProcessesExportJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.records.Seed("partner", "p-1", map[string]any{"name": "Apotheke Nord"})

	job := domain.NewExportJob("bk-1", "partner", "p-1", nil)
	if err := f.jobs.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := f.worker.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.worker.Stop()

	waitFor(t, func() bool {
		j, err := f.jobs.Get(ctx, job.ID)
		return err == nil && j.Status == domain.JobStatusCompleted
	})

	if f.client.WriteCount("Customer") != 1 {
		t.Fatalf("expected 1 backend write, got %d", f.client.WriteCount("Customer"))
	}
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.client.Unreliable = true

	job := domain.NewImportJob("bk-1", "partner", "7", false)
	if err := f.jobs.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := f.worker.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.worker.Stop()

	// The job goes back to pending with backoff rather than failing.
	waitFor(t, func() bool {
		j, err := f.jobs.Get(ctx, job.ID)
		return err == nil && j.Status == domain.JobStatusPending && j.Attempts >= 1 && j.Error != ""
	})
	if len(f.checkpoints.Flagged()) != 0 {
		t.Fatal("transient failure produced a checkpoint")
	}
}

func TestWorkerFatalFailureFlagsCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.client.Seed("Customer", "7", map[string]any{"display_name": ""})

	job := domain.NewImportJob("bk-1", "partner", "7", false)
	if err := f.jobs.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := f.worker.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.worker.Stop()

	waitFor(t, func() bool {
		j, err := f.jobs.Get(ctx, job.ID)
		return err == nil && j.Status == domain.JobStatusFailed
	})

	flagged := f.checkpoints.Flagged()
	if len(flagged) != 1 {
		t.Fatalf("expected 1 checkpoint, got %d", len(flagged))
	}
	cp := flagged[0]
	if cp.BackendID != "bk-1" || cp.EntityType != "partner" || cp.ExternalKey != "7" {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}
	if cp.Resolved {
		t.Fatal("checkpoint must start unresolved")
	}
}

func TestShouldRetryClassification(t *testing.T) {
	f := newFixture()

	fresh := func(attempts int) *domain.Job {
		j := domain.NewImportJob("bk-1", "partner", "7", false)
		j.Attempts = attempts
		return j
	}

	tests := []struct {
		name string
		job  *domain.Job
		err  error
		want bool
	}{
		{"retryable", fresh(1), domain.Retryablef("backend down"), true},
		{"retryable budget exhausted", fresh(5), domain.Retryablef("backend down"), false},
		{"identity missing first attempt", fresh(1), domain.IdentityMissing("partner", "7"), true},
		{"identity missing second attempt", fresh(2), domain.IdentityMissing("partner", "7"), false},
		{"validation", fresh(1), domain.Validation("partner", "name", "empty"), false},
		{"integrity fault", fresh(1), domain.ErrIntegrityFault, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.worker.shouldRetry(tt.job, tt.err); got != tt.want {
				t.Errorf("shouldRetry = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWorkerUnknownPipelineFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	job := domain.NewImportJob("bk-1", "invoice", "7", false)
	if err := f.jobs.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := f.worker.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.worker.Stop()

	waitFor(t, func() bool {
		j, err := f.jobs.Get(ctx, job.ID)
		return err == nil && j.Status == domain.JobStatusFailed
	})
}

func TestWorkerHealth(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	health := f.worker.Health(ctx)
	if health.Running {
		t.Fatal("worker should not report running before Start")
	}
	if !health.QueueHealth {
		t.Fatal("queue should be healthy")
	}

	if err := f.worker.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.worker.Stop()

	health = f.worker.Health(ctx)
	if !health.Running {
		t.Fatal("worker should report running after Start")
	}
}
