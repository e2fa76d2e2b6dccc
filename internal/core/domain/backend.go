package domain

// BackendKind names a family of external systems sharing one adapter and
// one set of entity descriptors.
type BackendKind string

// Backend is a configured instance of an external system. Bindings are
// scoped to a backend instance, not a kind.
type Backend struct {
	// ID uniquely identifies this backend instance
	ID string `json:"id"`

	// Kind selects the adapter and descriptor set
	Kind BackendKind `json:"kind"`

	// Name is a human-readable label
	Name string `json:"name"`

	// BaseURL is the backend's API endpoint
	BaseURL string `json:"base_url"`

	// Enabled gates all synchronization against this backend
	Enabled bool `json:"enabled"`
}
