package entities

import (
	"context"
	"testing"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

func TestTableIsClosedAndAcyclic(t *testing.T) {
	table := Descriptors(Config{BackendID: "bk-1"})

	byType := make(map[string]*domain.Descriptor, len(table))
	for _, d := range table {
		if d.EntityType == "" || d.ExternalEntity == "" || d.KeyField == "" {
			t.Fatalf("incomplete descriptor %+v", d)
		}
		if _, dup := byType[d.EntityType]; dup {
			t.Fatalf("duplicate descriptor for %s", d.EntityType)
		}
		byType[d.EntityType] = d
	}

	// Every declared dependency must be in the table, and registration
	// order must list dependencies before their dependents so recursive
	// resolution terminates.
	seen := make(map[string]bool)
	for _, d := range table {
		for _, dep := range d.Dependencies {
			if _, ok := byType[dep.EntityType]; !ok {
				t.Errorf("%s depends on unregistered %s", d.EntityType, dep.EntityType)
			}
			if !seen[dep.EntityType] {
				t.Errorf("%s registered before its dependency %s", d.EntityType, dep.EntityType)
			}
		}
		seen[d.EntityType] = true
	}
}

func TestPartnerImportComposesName(t *testing.T) {
	d := Partner(Config{})

	tests := []struct {
		name string
		raw  map[string]any
		want string
	}{
		{"person", map[string]any{"first_name": "Marie", "last_name": "Weber"}, "Marie Weber"},
		{"last name only", map[string]any{"last_name": "Weber"}, "Weber"},
		{"company fallback", map[string]any{"company": "Apotheke Nord GmbH"}, "Apotheke Nord GmbH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rule *domain.MappingRule
			for i := range d.ImportRules {
				if d.ImportRules[i].Target == "name" {
					rule = &d.ImportRules[i]
				}
			}
			if rule == nil {
				t.Fatal("no name rule")
			}
			got, err := rule.Compute(domain.MapContext{Raw: tt.raw})
			if err != nil {
				t.Fatalf("Compute: %v", err)
			}
			if got != tt.want {
				t.Errorf("name = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProductPriceConversion(t *testing.T) {
	d := Product(Config{})
	var rule *domain.MappingRule
	for i := range d.ImportRules {
		if d.ImportRules[i].Target == "price_cents" {
			rule = &d.ImportRules[i]
		}
	}
	if rule == nil {
		t.Fatal("no price rule")
	}

	got, err := rule.Compute(domain.MapContext{Raw: map[string]any{"price": 12.99}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got != int64(1299) {
		t.Errorf("price_cents = %v", got)
	}

	got, err = rule.Compute(domain.MapContext{Raw: map[string]any{}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got != 0 {
		t.Errorf("missing price = %v, want 0", got)
	}
}

func TestOrderDependencyExtractors(t *testing.T) {
	d := Order(Config{})
	if len(d.Dependencies) != 1 {
		t.Fatalf("expected 1 dependency, got %d", len(d.Dependencies))
	}
	dep := d.Dependencies[0]

	key, ok := dep.ExternalKey(map[string]any{"customer_id": "42"})
	if !ok || key != "42" {
		t.Errorf("ExternalKey = %q, %v", key, ok)
	}
	if _, ok := dep.ExternalKey(map[string]any{"customer_id": ""}); ok {
		t.Error("empty customer_id must not extract")
	}

	rec := &domain.Record{Fields: map[string]any{"partner_id": "p-1"}}
	local, ok := dep.LocalID(rec)
	if !ok || local != "p-1" {
		t.Errorf("LocalID = %q, %v", local, ok)
	}
}

func TestOrderPostImportEnqueuesLineBatch(t *testing.T) {
	ctx := context.Background()
	var submitted []*domain.Job
	d := Order(Config{
		BackendID: "bk-1",
		Submit: func(ctx context.Context, job *domain.Job) error {
			submitted = append(submitted, job)
			return nil
		},
	})

	rec := &domain.Record{EntityType: TypeOrder, ID: "o-1", Fields: map[string]any{}}
	if err := d.Hooks.PostImport(ctx, rec, map[string]any{"id": "500"}); err != nil {
		t.Fatalf("PostImport: %v", err)
	}

	if len(submitted) != 1 {
		t.Fatalf("expected 1 job, got %d", len(submitted))
	}
	j := submitted[0]
	if j.Kind != domain.JobImportBatch || j.EntityType != TypeOrderLine {
		t.Fatalf("unexpected job %+v", j)
	}
	if j.Filters["order_id"] != "500" {
		t.Fatalf("filters = %v", j.Filters)
	}
}

func TestOrderLineExportRequiresBoundDependencies(t *testing.T) {
	d := OrderLine(Config{})

	var rule *domain.MappingRule
	for i := range d.ExportRules {
		if d.ExportRules[i].Target == "order_id" {
			rule = &d.ExportRules[i]
		}
	}
	if rule == nil {
		t.Fatal("no order_id export rule")
	}

	// Unbound order dependency must fail loudly.
	unbound := &domain.Binding{LocalID: "o-1"}
	_, err := rule.Compute(domain.MapContext{Deps: map[string]*domain.Binding{TypeOrder: unbound}})
	if err == nil {
		t.Fatal("expected error for unbound order")
	}

	ext := "0"
	bound := &domain.Binding{LocalID: "o-1", ExternalID: &ext}
	got, err := rule.Compute(domain.MapContext{Deps: map[string]*domain.Binding{TypeOrder: bound}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// "0" is a valid external identity and must pass through untouched.
	if got != "0" {
		t.Errorf("order_id = %v", got)
	}
}

func TestPartnerExportSplitsName(t *testing.T) {
	d := Partner(Config{})

	rules := make(map[string]*domain.MappingRule)
	for i := range d.ExportRules {
		rules[d.ExportRules[i].Target] = &d.ExportRules[i]
	}
	if rules["first_name"] == nil || rules["last_name"] == nil {
		t.Fatal("missing name export rules")
	}

	tests := []struct {
		name      string
		local     string
		wantFirst string
		wantLast  string
	}{
		{"person", "Marie Weber", "Marie", "Weber"},
		{"double given name", "Anna Lena Meier", "Anna Lena", "Meier"},
		{"single token", "Weber", "", "Weber"},
		{"empty", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := domain.MapContext{Record: &domain.Record{
				EntityType: TypePartner,
				ID:         "p-1",
				Fields:     map[string]any{"name": tt.local},
			}}
			first, err := rules["first_name"].Compute(mc)
			if err != nil {
				t.Fatalf("first_name: %v", err)
			}
			last, err := rules["last_name"].Compute(mc)
			if err != nil {
				t.Fatalf("last_name: %v", err)
			}
			if first != tt.wantFirst || last != tt.wantLast {
				t.Errorf("split = %q/%q, want %q/%q", first, last, tt.wantFirst, tt.wantLast)
			}
		})
	}
}

func TestPartnerNameRoundTrips(t *testing.T) {
	d := Partner(Config{})

	var compose *domain.MappingRule
	for i := range d.ImportRules {
		if d.ImportRules[i].Target == "name" {
			compose = &d.ImportRules[i]
		}
	}
	if compose == nil {
		t.Fatal("no name import rule")
	}
	var split *domain.MappingRule
	for i := range d.ExportRules {
		if d.ExportRules[i].Target == "last_name" {
			split = &d.ExportRules[i]
		}
	}
	var splitFirst *domain.MappingRule
	for i := range d.ExportRules {
		if d.ExportRules[i].Target == "first_name" {
			splitFirst = &d.ExportRules[i]
		}
	}

	// Exported parts must compose back to the identical local name, so
	// a local name edit survives an export/import cycle unchanged.
	for _, name := range []string{"Marie Weber", "Anna Lena Meier", "Weber"} {
		mc := domain.MapContext{Record: &domain.Record{
			EntityType: TypePartner,
			Fields:     map[string]any{"name": name},
		}}
		first, err := splitFirst.Compute(mc)
		if err != nil {
			t.Fatalf("first_name: %v", err)
		}
		last, err := split.Compute(mc)
		if err != nil {
			t.Fatalf("last_name: %v", err)
		}
		got, err := compose.Compute(domain.MapContext{Raw: map[string]any{
			"first_name": first,
			"last_name":  last,
		}})
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		if got != name {
			t.Errorf("round trip of %q produced %q", name, got)
		}
	}
}
