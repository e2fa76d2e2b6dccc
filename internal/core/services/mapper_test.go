package services

import (
	"testing"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

func TestMapImportCreateAppliesAllRules(t *testing.T) {
	m := NewMapper(partnerDescriptor())

	out, err := m.MapImport(map[string]any{
		"display_name": "Apotheke Nord",
		"email":        "nord@example.com",
	}, nil, true)
	if err != nil {
		t.Fatalf("MapImport: %v", err)
	}
	if out["name"] != "Apotheke Nord" {
		t.Errorf("name = %v", out["name"])
	}
	if out["email"] != "nord@example.com" {
		t.Errorf("email = %v", out["email"])
	}
}

func TestMapImportUpdateSkipsOnCreateRules(t *testing.T) {
	m := NewMapper(partnerDescriptor())

	out, err := m.MapImport(map[string]any{
		"display_name": "Apotheke Nord",
		"email":        "changed@example.com",
	}, nil, false)
	if err != nil {
		t.Fatalf("MapImport: %v", err)
	}
	if out["name"] != "Apotheke Nord" {
		t.Errorf("name = %v", out["name"])
	}
	// email is on_create: a re-import must not clobber the local value.
	if _, ok := out["email"]; ok {
		t.Errorf("expected email absent on update, got %v", out["email"])
	}
}

func TestMapImportMissingSourceFieldOmitted(t *testing.T) {
	m := NewMapper(partnerDescriptor())

	out, err := m.MapImport(map[string]any{"email": "x@example.com"}, nil, true)
	if err != nil {
		t.Fatalf("MapImport: %v", err)
	}
	if _, ok := out["name"]; ok {
		t.Errorf("expected name omitted when source is absent, got %v", out["name"])
	}
}

func TestMapExportChangeGates(t *testing.T) {
	m := NewMapper(partnerDescriptor())
	rec := &domain.Record{
		EntityType: "partner",
		ID:         "local-1",
		Fields:     map[string]any{"name": "Apotheke Süd", "email": "sued@example.com"},
	}

	tests := []struct {
		name    string
		changed []string
		want    []string
		absent  []string
	}{
		{"nil changed set exports everything", nil, []string{"display_name", "email"}, nil},
		{"only name changed", []string{"name"}, []string{"display_name"}, []string{"email"}},
		{"unrelated change exports nothing", []string{"phone"}, nil, []string{"display_name", "email"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := m.MapExport(rec, nil, tt.changed, false)
			if err != nil {
				t.Fatalf("MapExport: %v", err)
			}
			for _, f := range tt.want {
				if _, ok := out[f]; !ok {
					t.Errorf("expected %s in payload", f)
				}
			}
			for _, f := range tt.absent {
				if _, ok := out[f]; ok {
					t.Errorf("expected %s absent from payload", f)
				}
			}
		})
	}
}

func TestMapExportCreateOpensAllGates(t *testing.T) {
	m := NewMapper(partnerDescriptor())
	rec := &domain.Record{
		EntityType: "partner",
		ID:         "local-1",
		Fields:     map[string]any{"name": "Apotheke Süd", "email": "sued@example.com"},
	}

	out, err := m.MapExport(rec, nil, []string{"phone"}, true)
	if err != nil {
		t.Fatalf("MapExport: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected full payload on create, got %v", out)
	}
}

func TestMapComputedRuleUsesDependency(t *testing.T) {
	m := NewMapper(orderDescriptor())
	ext := "55"
	deps := map[string]*domain.Binding{
		"partner": {LocalID: "local-9", ExternalID: &ext},
	}

	out, err := m.MapImport(map[string]any{"order_ref": "SO-1001"}, deps, true)
	if err != nil {
		t.Fatalf("MapImport: %v", err)
	}
	if out["partner_id"] != "local-9" {
		t.Errorf("partner_id = %v", out["partner_id"])
	}

	rec := &domain.Record{EntityType: "order", ID: "local-2",
		Fields: map[string]any{"ref": "SO-1001", "partner_id": "local-9"}}
	out, err = m.MapExport(rec, deps, nil, true)
	if err != nil {
		t.Fatalf("MapExport: %v", err)
	}
	if out["customer_id"] != "55" {
		t.Errorf("customer_id = %v", out["customer_id"])
	}
}

func TestMapComputedRuleErrorPropagates(t *testing.T) {
	m := NewMapper(orderDescriptor())

	// No partner dependency resolved: the computed rule must fail loudly
	// rather than emit a nil reference.
	_, err := m.MapImport(map[string]any{"order_ref": "SO-1001"}, nil, true)
	if err == nil {
		t.Fatal("expected error from computed rule without dependency")
	}
}
