package services

import (
	"context"
	"testing"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

func TestImportCreatesRecordAndBinding(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.client.Seed("Customer", "7", map[string]any{
		"display_name": "Apotheke Nord",
		"email":        "nord@example.com",
	})

	binding, err := h.partner.Importer.Run(ctx, "7", false, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if binding == nil {
		t.Fatal("expected binding")
	}
	ext, bound := binding.External()
	if !bound || ext != "7" {
		t.Fatalf("expected binding to external 7, got %q bound=%v", ext, bound)
	}

	fields := h.records.FieldsOf("partner", binding.LocalID)
	if fields == nil {
		t.Fatal("expected local record")
	}
	if fields["name"] != "Apotheke Nord" || fields["email"] != "nord@example.com" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestImportConverges(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.client.Seed("Customer", "7", map[string]any{
		"display_name": "Apotheke Nord",
		"email":        "nord@example.com",
	})

	first, err := h.partner.Importer.Run(ctx, "7", false, false)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := h.partner.Importer.Run(ctx, "7", false, false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if first.LocalID != second.LocalID {
		t.Fatalf("re-import created a second record: %s vs %s", first.LocalID, second.LocalID)
	}
	if h.bindings.Count() != 1 {
		t.Fatalf("expected 1 binding, got %d", h.bindings.Count())
	}
}

func TestImportUpdatePreservesLocalEdits(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.client.Seed("Customer", "7", map[string]any{
		"display_name": "Apotheke Nord",
		"email":        "nord@example.com",
	})

	binding, err := h.partner.Importer.Run(ctx, "7", false, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// A local operator corrected the email; the backend still carries the
	// old one. Re-import must not clobber the on_create-gated field.
	sctx := domain.SuppressSync(ctx)
	if err := h.records.Update(sctx, "partner", binding.LocalID,
		map[string]any{"email": "corrected@example.com"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := h.partner.Importer.Run(ctx, "7", false, false); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	fields := h.records.FieldsOf("partner", binding.LocalID)
	if fields["email"] != "corrected@example.com" {
		t.Fatalf("re-import clobbered local edit: %v", fields["email"])
	}
}

func TestImportSkipsMissingExternal(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	binding, err := h.partner.Importer.Run(ctx, "absent", false, false)
	if err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
	if binding != nil {
		t.Fatalf("expected no binding, got %+v", binding)
	}
	if h.bindings.Count() != 0 {
		t.Fatalf("expected no bindings, got %d", h.bindings.Count())
	}
}

func TestImportRequiredMissingExternalFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	if _, err := h.partner.Importer.Run(ctx, "absent", false, true); err == nil {
		t.Fatal("expected error for required missing record")
	}
}

func TestImportResolvesDependencyFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.client.Seed("Customer", "7", map[string]any{"display_name": "Apotheke Nord"})
	h.client.Seed("SalesOrder", "100", map[string]any{
		"order_ref":   "SO-1001",
		"customer_id": "7",
	})

	binding, err := h.order.Importer.Run(ctx, "100", false, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Importing the order must have pulled the partner in first.
	partnerBinding, err := h.partner.Binder.ToLocal(ctx, "7")
	if err != nil {
		t.Fatalf("ToLocal: %v", err)
	}
	if partnerBinding == nil {
		t.Fatal("expected partner imported as dependency")
	}

	fields := h.records.FieldsOf("order", binding.LocalID)
	if fields["partner_id"] != partnerBinding.LocalID {
		t.Fatalf("order references %v, partner is %s", fields["partner_id"], partnerBinding.LocalID)
	}
}

func TestImportReusesBoundDependency(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.client.Seed("Customer", "7", map[string]any{"display_name": "Apotheke Nord"})
	h.client.Seed("SalesOrder", "100", map[string]any{
		"order_ref":   "SO-1001",
		"customer_id": "7",
	})

	if _, err := h.partner.Importer.Run(ctx, "7", false, false); err != nil {
		t.Fatalf("import partner: %v", err)
	}
	before := len(h.records.FieldsOf("partner", "local-1"))

	if _, err := h.order.Importer.Run(ctx, "100", false, false); err != nil {
		t.Fatalf("import order: %v", err)
	}
	if h.bindings.Count() != 2 {
		t.Fatalf("expected 2 bindings, got %d", h.bindings.Count())
	}
	if after := len(h.records.FieldsOf("partner", "local-1")); after != before {
		t.Fatal("bound dependency was re-imported")
	}
}

func TestImportMissingRequiredDependencyKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.client.Seed("SalesOrder", "100", map[string]any{"order_ref": "SO-1001"})

	_, err := h.order.Importer.Run(ctx, "100", false, false)
	if !domain.IsIdentityMissing(err) {
		t.Fatalf("expected identity-missing error, got %v", err)
	}
}

func TestImportDependencyGoneIsRetryable(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	// Order references a customer the backend no longer has.
	h.client.Seed("SalesOrder", "100", map[string]any{
		"order_ref":   "SO-1001",
		"customer_id": "7",
	})

	_, err := h.order.Importer.Run(ctx, "100", false, false)
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsRetryable(err) {
		t.Fatalf("expected retryable dependency failure, got %v", err)
	}
}

func TestImportValidationFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.client.Seed("Customer", "7", map[string]any{"display_name": ""})

	_, err := h.partner.Importer.Run(ctx, "7", false, false)
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if domain.IsRetryable(err) {
		t.Fatal("validation failures must not be retryable")
	}
	if h.bindings.Count() != 0 {
		t.Fatal("validation failure must not leave a binding")
	}
}

func TestImportDoesNotTriggerExport(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	listener := NewListener(h.registry, h.jobs, discardLogger())
	h.records.Subscribe(func(ctx context.Context, ev domain.RecordEvent) {
		if ev.Created {
			_ = listener.OnCreate(ctx, ev.EntityType, ev.LocalID, ev.Changed)
		} else {
			_ = listener.OnWrite(ctx, ev.EntityType, ev.LocalID, ev.Changed)
		}
	})
	h.client.Seed("Customer", "7", map[string]any{"display_name": "Apotheke Nord"})

	if _, err := h.partner.Importer.Run(ctx, "7", false, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if jobs := h.jobs.EnqueuedOfKind(domain.JobExportRecord); len(jobs) != 0 {
		t.Fatalf("import triggered %d export jobs", len(jobs))
	}
}

func TestBatchImportFansOut(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.client.Seed("Customer", "1", map[string]any{"display_name": "A", "region": "north"})
	h.client.Seed("Customer", "2", map[string]any{"display_name": "B", "region": "north"})
	h.client.Seed("Customer", "3", map[string]any{"display_name": "C", "region": "south"})

	n, err := h.partner.Importer.RunBatch(ctx, map[string]any{"region": "north"})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 jobs, got %d", n)
	}
	jobs := h.jobs.EnqueuedOfKind(domain.JobImportRecord)
	if len(jobs) != 2 {
		t.Fatalf("expected 2 import jobs enqueued, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.EntityType != "partner" || j.BackendID != "bk-1" {
			t.Fatalf("job targets wrong pipeline: %+v", j)
		}
	}
}

func TestRunDeleteRemovesRecordAndBinding(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.client.Seed("Customer", "7", map[string]any{"display_name": "Apotheke Nord"})

	binding, err := h.partner.Importer.Run(ctx, "7", false, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := h.partner.Importer.RunDelete(ctx, "7"); err != nil {
		t.Fatalf("RunDelete: %v", err)
	}
	if h.records.FieldsOf("partner", binding.LocalID) != nil {
		t.Fatal("expected local record deleted")
	}
	if h.bindings.Count() != 0 {
		t.Fatal("expected binding deleted")
	}

	// Deleting an unknown external id is a no-op.
	if err := h.partner.Importer.RunDelete(ctx, "999"); err != nil {
		t.Fatalf("RunDelete unknown: %v", err)
	}
}

func TestImportBindsCanonicalKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	raw := map[string]any{
		"id":           "7",
		"display_name": "Apotheke Nord",
	}
	h.client.Seed("Customer", "7", raw)
	h.client.Seed("Customer", "CUST-0007", raw)

	binding, err := h.partner.Importer.Run(ctx, "CUST-0007", false, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	ext, bound := binding.External()
	if !bound || ext != "7" {
		t.Fatalf("expected binding to canonical key 7, got %q bound=%v", ext, bound)
	}

	// An import through the canonical key lands on the same record.
	second, err := h.partner.Importer.Run(ctx, "7", false, false)
	if err != nil {
		t.Fatalf("canonical Run: %v", err)
	}
	if second.LocalID != binding.LocalID {
		t.Fatalf("aliased import created a second record: %s vs %s", binding.LocalID, second.LocalID)
	}
	if h.bindings.Count() != 1 {
		t.Fatalf("expected 1 binding, got %d", h.bindings.Count())
	}
}
