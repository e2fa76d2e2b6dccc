package domain

import "context"

// RuleKind identifies how a mapping rule produces its value.
type RuleKind string

const (
	// RuleDirect copies one source field into the target field
	RuleDirect RuleKind = "direct"
	// RuleComputed derives the target value from the whole record
	RuleComputed RuleKind = "computed"
)

// GateKind controls when a mapping rule applies.
type GateKind string

const (
	// GateAlways applies the rule on every mapping pass
	GateAlways GateKind = "always"
	// GateOnCreate applies the rule only when the target record does not
	// exist yet. Used on import to avoid clobbering user-edited fields.
	GateOnCreate GateKind = "on_create"
	// GateOnChange applies the rule only when the gated field changed.
	// Used on export to avoid sending unmodified attributes.
	GateOnChange GateKind = "on_change"
)

// Gate is a mapping rule's applicability condition.
type Gate struct {
	Kind  GateKind
	Field string // gated field for GateOnChange
}

// Always is the default gate.
func Always() Gate { return Gate{Kind: GateAlways} }

// OnCreateOnly gates a rule to the create pass.
func OnCreateOnly() Gate { return Gate{Kind: GateOnCreate} }

// OnFieldChanged gates a rule to passes where field changed.
func OnFieldChanged(field string) Gate { return Gate{Kind: GateOnChange, Field: field} }

// MapContext carries the inputs of one mapping pass. Exactly one of Raw
// (import) or Record (export) is set.
type MapContext struct {
	// Raw is the external record being imported
	Raw map[string]any
	// Record is the local record being exported
	Record *Record
	// Deps holds the resolved dependency bindings, keyed by entity type
	Deps map[string]*Binding
	// IsCreate is true when the mapping target does not exist yet
	IsCreate bool
}

// Dep returns the resolved binding for a dependency entity type.
func (c MapContext) Dep(entityType string) (*Binding, bool) {
	b, ok := c.Deps[entityType]
	return b, ok
}

// MappingRule is one tagged-variant field mapping descriptor, evaluated by
// the generic rule runner.
type MappingRule struct {
	// Target is the field being written on the mapping output
	Target string
	// Kind selects direct copy vs computed
	Kind RuleKind
	// Source is the input field for RuleDirect
	Source string
	// Compute produces the value for RuleComputed
	Compute func(MapContext) (any, error)
	// Gate controls when the rule applies
	Gate Gate
}

// Direct builds a direct-copy rule.
func Direct(target, source string) MappingRule {
	return MappingRule{Target: target, Kind: RuleDirect, Source: source, Gate: Always()}
}

// Computed builds a computed rule.
func Computed(target string, fn func(MapContext) (any, error)) MappingRule {
	return MappingRule{Target: target, Kind: RuleComputed, Compute: fn, Gate: Always()}
}

// Gated returns a copy of the rule with the given gate.
func (r MappingRule) Gated(g Gate) MappingRule {
	r.Gate = g
	return r
}

// Dependency declares another entity type that must be bound before the
// current record can be synchronized. Dependencies are static per entity
// type and must not be mutually recursive.
type Dependency struct {
	// EntityType of the dependency
	EntityType string

	// Required makes a missing dependency fatal instead of skippable
	Required bool

	// ExternalKey extracts the dependency's external key from a raw
	// external record (import side)
	ExternalKey func(raw map[string]any) (string, bool)

	// LocalID extracts the dependency's local id from a local record
	// (export side)
	LocalID func(rec *Record) (string, bool)
}

// Hooks are entity-specific follow-ons invoked by the importer/exporter.
// They run inside the job's unit of work; returned errors are classified
// like any other step.
type Hooks struct {
	// PostCreate runs after a local record was first created by an import
	// (e.g. flag the record for manual review)
	PostCreate func(ctx context.Context, rec *Record) error

	// PostImport runs after every successful import of the record
	// (e.g. enqueue imports of child line items)
	PostImport func(ctx context.Context, rec *Record, raw map[string]any) error

	// PostExport runs after every successful export
	PostExport func(ctx context.Context, b *Binding) error
}

// Descriptor is the static per-entity-type configuration: naming, mapping
// rules, dependencies and hooks. Descriptors are registered once at startup.
type Descriptor struct {
	// EntityType names the local entity collection
	EntityType string

	// ExternalEntity names the entity on the backend
	ExternalEntity string

	// KeyField is the external primary key field in raw records
	KeyField string

	// ChangeDateField is the external last-changed timestamp field,
	// read by the exporter's drift check. Empty disables the check.
	ChangeDateField string

	// ImportRules map raw external records to local field values
	ImportRules []MappingRule

	// ExportRules map local records to external field values
	ExportRules []MappingRule

	// Dependencies are synchronized before this entity
	Dependencies []Dependency

	// Validate is a pre-flight check on mapped field values. A non-nil
	// return is fatal and checkpointed, never retried.
	Validate func(fields map[string]any) error

	Hooks Hooks
}
