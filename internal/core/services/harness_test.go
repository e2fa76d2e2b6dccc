package services

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven/mocks"
)

// harness wires a registry over mocks with two pipelines: partner (no
// dependencies) and order (requires partner). Most service tests run
// against this fixture.
type harness struct {
	backend  *domain.Backend
	client   *mocks.MockBackend
	bindings *mocks.MockBindingStore
	records  *mocks.MockRecordStore
	jobs     *mocks.MockJobQueue
	lock     *mocks.MockRecordLock
	registry *Registry
	partner  *Pipeline
	order    *Pipeline
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness() *harness {
	h := &harness{
		backend: &domain.Backend{
			ID:      "bk-1",
			Kind:    "test",
			Name:    "test backend",
			Enabled: true,
		},
		client:   mocks.NewMockBackend(),
		bindings: mocks.NewMockBindingStore(),
		records:  mocks.NewMockRecordStore(),
		jobs:     mocks.NewMockJobQueue(),
		lock:     mocks.NewMockRecordLock(),
	}
	h.registry = NewRegistry(RegistryConfig{
		Bindings: h.bindings,
		Records:  h.records,
		Jobs:     h.jobs,
		Lock:     h.lock,
		Logger:   discardLogger(),
	})
	h.partner = h.registry.Register(h.backend, partnerDescriptor(), h.client)
	h.order = h.registry.Register(h.backend, orderDescriptor(), h.client)
	return h
}

func partnerDescriptor() *domain.Descriptor {
	return &domain.Descriptor{
		EntityType:      "partner",
		ExternalEntity:  "Customer",
		KeyField:        "id",
		ChangeDateField: "changed_at",
		ImportRules: []domain.MappingRule{
			domain.Direct("name", "display_name"),
			domain.Direct("email", "email").Gated(domain.OnCreateOnly()),
		},
		ExportRules: []domain.MappingRule{
			domain.Direct("display_name", "name").Gated(domain.OnFieldChanged("name")),
			domain.Direct("email", "email").Gated(domain.OnFieldChanged("email")),
		},
		Validate: func(fields map[string]any) error {
			if name, ok := fields["name"]; ok && name == "" {
				return domain.Validation("partner", "name", "must not be empty")
			}
			if name, ok := fields["display_name"]; ok && name == "" {
				return domain.Validation("partner", "display_name", "must not be empty")
			}
			return nil
		},
	}
}

func orderDescriptor() *domain.Descriptor {
	return &domain.Descriptor{
		EntityType:      "order",
		ExternalEntity:  "SalesOrder",
		KeyField:        "id",
		ChangeDateField: "changed_at",
		ImportRules: []domain.MappingRule{
			domain.Direct("ref", "order_ref"),
			domain.Computed("partner_id", func(mc domain.MapContext) (any, error) {
				b, ok := mc.Dep("partner")
				if !ok {
					return nil, fmt.Errorf("partner dependency not resolved")
				}
				return b.LocalID, nil
			}),
		},
		ExportRules: []domain.MappingRule{
			domain.Direct("order_ref", "ref"),
			domain.Computed("customer_id", func(mc domain.MapContext) (any, error) {
				b, ok := mc.Dep("partner")
				if !ok {
					return nil, fmt.Errorf("partner dependency not resolved")
				}
				id, bound := b.External()
				if !bound {
					return nil, fmt.Errorf("partner %s unbound", b.LocalID)
				}
				return id, nil
			}),
		},
		Dependencies: []domain.Dependency{
			{
				EntityType: "partner",
				Required:   true,
				ExternalKey: func(raw map[string]any) (string, bool) {
					v, ok := raw["customer_id"].(string)
					return v, ok && v != ""
				},
				LocalID: func(rec *domain.Record) (string, bool) {
					v, ok := rec.Fields["partner_id"].(string)
					return v, ok && v != ""
				},
			},
		},
	}
}

// pastTimestamp returns an RFC3339 string safely before any sync date a
// test produces.
func pastTimestamp() string {
	return time.Now().Add(-24 * time.Hour).Format(time.RFC3339)
}

// futureTimestamp returns an RFC3339 string after any sync date a test
// produces.
func futureTimestamp() string {
	return time.Now().Add(24 * time.Hour).Format(time.RFC3339)
}
