package services

import (
	"fmt"
	"slices"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

// Mapper evaluates an entity's mapping rule table in both directions. It
// is pure: no side effects beyond reading already-resolved dependency
// bindings, and never any network call.
type Mapper struct {
	desc *domain.Descriptor
}

// NewMapper creates a mapper for one entity descriptor.
func NewMapper(desc *domain.Descriptor) *Mapper {
	return &Mapper{desc: desc}
}

// MapImport transforms a raw external record into local field values.
// Rules gated on_create apply only when no local record exists yet, so
// re-imports do not clobber user-edited fields.
func (m *Mapper) MapImport(raw map[string]any, deps map[string]*domain.Binding, isCreate bool) (map[string]any, error) {
	mc := domain.MapContext{Raw: raw, Deps: deps, IsCreate: isCreate}
	out := make(map[string]any)
	for _, rule := range m.desc.ImportRules {
		if !importGateOpen(rule.Gate, isCreate) {
			continue
		}
		val, ok, err := m.eval(rule, mc, raw)
		if err != nil {
			return nil, err
		}
		if ok {
			out[rule.Target] = val
		}
	}
	return out, nil
}

// MapExport transforms a local record into external field values. Rules
// gated on a field apply only when that field is in the changed set;
// a nil changed set means everything changed. On create all gates open,
// since the backend needs the full payload.
func (m *Mapper) MapExport(rec *domain.Record, deps map[string]*domain.Binding, changed []string, isCreate bool) (map[string]any, error) {
	mc := domain.MapContext{Record: rec, Deps: deps, IsCreate: isCreate}
	out := make(map[string]any)
	for _, rule := range m.desc.ExportRules {
		if !exportGateOpen(rule.Gate, changed, isCreate) {
			continue
		}
		val, ok, err := m.eval(rule, mc, rec.Fields)
		if err != nil {
			return nil, err
		}
		if ok {
			out[rule.Target] = val
		}
	}
	return out, nil
}

// eval runs one rule against the source field map.
func (m *Mapper) eval(rule domain.MappingRule, mc domain.MapContext, source map[string]any) (any, bool, error) {
	switch rule.Kind {
	case domain.RuleDirect:
		v, ok := source[rule.Source]
		return v, ok, nil
	case domain.RuleComputed:
		v, err := rule.Compute(mc)
		if err != nil {
			return nil, false, fmt.Errorf("compute %s.%s: %w", m.desc.EntityType, rule.Target, err)
		}
		return v, true, nil
	default:
		return nil, false, fmt.Errorf("unknown rule kind %q for %s.%s", rule.Kind, m.desc.EntityType, rule.Target)
	}
}

func importGateOpen(g domain.Gate, isCreate bool) bool {
	switch g.Kind {
	case domain.GateOnCreate:
		return isCreate
	default:
		// Change gates are an export concern; on import they always apply.
		return true
	}
}

func exportGateOpen(g domain.Gate, changed []string, isCreate bool) bool {
	switch g.Kind {
	case domain.GateOnCreate:
		return isCreate
	case domain.GateOnChange:
		if isCreate || changed == nil {
			return true
		}
		return slices.Contains(changed, g.Field)
	default:
		return true
	}
}
