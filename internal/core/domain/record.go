package domain

import "context"

// Record is a local business record, treated as an opaque identifier plus
// typed field values. The business schema itself lives in the local record
// store; the sync core only moves field values.
type Record struct {
	EntityType string         `json:"entity_type"`
	ID         string         `json:"id"`
	Fields     map[string]any `json:"fields"`
}

// Field returns a field value and whether it is present.
func (r *Record) Field(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// StringField returns a field coerced to string, or "" if absent or not a
// string.
func (r *Record) StringField(name string) string {
	if v, ok := r.Fields[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// suppressKey marks a unit of work whose local writes must not re-trigger
// synchronization (e.g. the core writing back after an import).
type suppressKey struct{}

// SuppressSync returns a context whose record writes do not fire sync events.
func SuppressSync(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

// SyncSuppressed reports whether sync event firing is suppressed on ctx.
func SyncSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressKey{}).(bool)
	return v
}

// RecordEvent is fired by the local record store when a record is created
// or written outside a suppressed unit of work.
type RecordEvent struct {
	EntityType string
	LocalID    string
	Changed    []string
	Created    bool
}
