// Package entities holds the static per-entity-type configuration table:
// mapping rules, dependency declarations and hooks for every record kind
// synchronized against a pharmos-family backend. The table is data, not
// behavior; the generic services evaluate it.
package entities

import (
	"context"
	"fmt"
	"strings"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

// KindPharmos is the backend family this descriptor set targets.
const KindPharmos domain.BackendKind = "pharmos"

// Entity type names (local collections).
const (
	TypePartner   = "partner"
	TypeProduct   = "product"
	TypeOrder     = "order"
	TypeOrderLine = "order.line"
)

// Config carries the capabilities descriptors need at registration time.
// Hooks must not reach into the job queue directly; they get a submit
// function instead.
type Config struct {
	// BackendID scopes hook-enqueued jobs to one backend instance
	BackendID string

	// Submit enqueues a follow-on synchronization job
	Submit func(ctx context.Context, job *domain.Job) error
}

// Descriptors returns the full table for one backend instance, in
// registration order.
func Descriptors(cfg Config) []*domain.Descriptor {
	return []*domain.Descriptor{
		Partner(cfg),
		Product(cfg),
		Order(cfg),
		OrderLine(cfg),
	}
}

// Partner maps local care partners to backend customers.
func Partner(cfg Config) *domain.Descriptor {
	return &domain.Descriptor{
		EntityType:      TypePartner,
		ExternalEntity:  "customers",
		KeyField:        "id",
		ChangeDateField: "changed_date",
		ImportRules: []domain.MappingRule{
			domain.Computed("name", func(mc domain.MapContext) (any, error) {
				first, _ := mc.Raw["first_name"].(string)
				last, _ := mc.Raw["last_name"].(string)
				name := strings.TrimSpace(first + " " + last)
				if name == "" {
					name, _ = mc.Raw["company"].(string)
				}
				return name, nil
			}),
			domain.Direct("street", "street"),
			domain.Direct("zip", "zip_code"),
			domain.Direct("city", "city"),
			domain.Direct("phone", "phone").Gated(domain.OnCreateOnly()),
			domain.Direct("email", "email").Gated(domain.OnCreateOnly()),
		},
		ExportRules: []domain.MappingRule{
			domain.Computed("first_name", func(mc domain.MapContext) (any, error) {
				first, _ := splitName(mc.Record.Fields["name"])
				return first, nil
			}).Gated(domain.OnFieldChanged("name")),
			domain.Computed("last_name", func(mc domain.MapContext) (any, error) {
				_, last := splitName(mc.Record.Fields["name"])
				return last, nil
			}).Gated(domain.OnFieldChanged("name")),
			domain.Direct("street", "street").Gated(domain.OnFieldChanged("street")),
			domain.Direct("zip_code", "zip").Gated(domain.OnFieldChanged("zip")),
			domain.Direct("city", "city").Gated(domain.OnFieldChanged("city")),
			domain.Direct("phone", "phone").Gated(domain.OnFieldChanged("phone")),
			domain.Direct("email", "email").Gated(domain.OnFieldChanged("email")),
		},
		Validate: func(fields map[string]any) error {
			if name, ok := fields["name"].(string); ok && name == "" {
				return domain.Validation(TypePartner, "name", "must not be empty")
			}
			return nil
		},
	}
}

// Product maps local products to backend articles. The backend owns the
// article master data, so products only import.
func Product(cfg Config) *domain.Descriptor {
	return &domain.Descriptor{
		EntityType:      TypeProduct,
		ExternalEntity:  "articles",
		KeyField:        "id",
		ChangeDateField: "changed_date",
		ImportRules: []domain.MappingRule{
			domain.Direct("name", "description"),
			domain.Direct("pzn", "pzn"),
			domain.Direct("unit", "unit"),
			domain.Computed("price_cents", func(mc domain.MapContext) (any, error) {
				price, ok := mc.Raw["price"].(float64)
				if !ok {
					return 0, nil
				}
				return int64(price*100 + 0.5), nil
			}),
		},
	}
}

// Order maps local orders to backend sales orders. Orders depend on their
// partner; line items are imported as a follow-on batch once the order is
// known locally.
func Order(cfg Config) *domain.Descriptor {
	return &domain.Descriptor{
		EntityType:      TypeOrder,
		ExternalEntity:  "orders",
		KeyField:        "id",
		ChangeDateField: "changed_date",
		ImportRules: []domain.MappingRule{
			domain.Direct("number", "order_number"),
			domain.Direct("state", "state").Gated(domain.OnCreateOnly()),
			domain.Direct("order_date", "order_date"),
			domain.Computed("partner_id", func(mc domain.MapContext) (any, error) {
				b, ok := mc.Dep(TypePartner)
				if !ok {
					return nil, fmt.Errorf("partner dependency unresolved")
				}
				return b.LocalID, nil
			}),
		},
		ExportRules: []domain.MappingRule{
			domain.Direct("order_number", "number").Gated(domain.OnFieldChanged("number")),
			domain.Direct("state", "state").Gated(domain.OnFieldChanged("state")),
			domain.Direct("order_date", "order_date").Gated(domain.OnCreateOnly()),
			domain.Computed("customer_id", func(mc domain.MapContext) (any, error) {
				b, ok := mc.Dep(TypePartner)
				if !ok {
					return nil, fmt.Errorf("partner dependency unresolved")
				}
				id, bound := b.External()
				if !bound {
					return nil, fmt.Errorf("partner %s has no external id", b.LocalID)
				}
				return id, nil
			}).Gated(domain.OnCreateOnly()),
		},
		Dependencies: []domain.Dependency{
			{
				EntityType:  TypePartner,
				Required:    true,
				ExternalKey: stringKey("customer_id"),
				LocalID:     localRef("partner_id"),
			},
		},
		Hooks: domain.Hooks{
			PostImport: func(ctx context.Context, rec *domain.Record, raw map[string]any) error {
				if cfg.Submit == nil {
					return nil
				}
				key, ok := raw["id"].(string)
				if !ok || key == "" {
					return nil
				}
				job := domain.NewBatchImportJob(cfg.BackendID, TypeOrderLine,
					map[string]any{"order_id": key})
				return cfg.Submit(ctx, job)
			},
		},
	}
}

// OrderLine maps local order lines to backend order positions. Lines
// require both their order and their product.
func OrderLine(cfg Config) *domain.Descriptor {
	return &domain.Descriptor{
		EntityType:      TypeOrderLine,
		ExternalEntity:  "order_lines",
		KeyField:        "id",
		ChangeDateField: "changed_date",
		ImportRules: []domain.MappingRule{
			domain.Direct("quantity", "quantity"),
			domain.Computed("order_id", func(mc domain.MapContext) (any, error) {
				b, ok := mc.Dep(TypeOrder)
				if !ok {
					return nil, fmt.Errorf("order dependency unresolved")
				}
				return b.LocalID, nil
			}),
			domain.Computed("product_id", func(mc domain.MapContext) (any, error) {
				b, ok := mc.Dep(TypeProduct)
				if !ok {
					return nil, fmt.Errorf("product dependency unresolved")
				}
				return b.LocalID, nil
			}),
		},
		ExportRules: []domain.MappingRule{
			domain.Direct("quantity", "quantity").Gated(domain.OnFieldChanged("quantity")),
			domain.Computed("order_id", func(mc domain.MapContext) (any, error) {
				b, ok := mc.Dep(TypeOrder)
				if !ok {
					return nil, fmt.Errorf("order dependency unresolved")
				}
				id, bound := b.External()
				if !bound {
					return nil, fmt.Errorf("order %s has no external id", b.LocalID)
				}
				return id, nil
			}).Gated(domain.OnCreateOnly()),
			domain.Computed("article_id", func(mc domain.MapContext) (any, error) {
				b, ok := mc.Dep(TypeProduct)
				if !ok {
					return nil, fmt.Errorf("product dependency unresolved")
				}
				id, bound := b.External()
				if !bound {
					return nil, fmt.Errorf("product %s has no external id", b.LocalID)
				}
				return id, nil
			}).Gated(domain.OnCreateOnly()),
		},
		Dependencies: []domain.Dependency{
			{
				EntityType:  TypeOrder,
				Required:    true,
				ExternalKey: stringKey("order_id"),
				LocalID:     localRef("order_id"),
			},
			{
				EntityType:  TypeProduct,
				Required:    true,
				ExternalKey: stringKey("article_id"),
				LocalID:     localRef("product_id"),
			},
		},
	}
}

// splitName undoes the import-side name composition: the last token is
// the family name, everything before it the given name. Single-token
// names export as family name only. Re-importing the split parts
// composes the identical name back.
func splitName(v any) (first, last string) {
	name, _ := v.(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	idx := strings.LastIndex(name, " ")
	if idx < 0 {
		return "", name
	}
	return strings.TrimSpace(name[:idx]), name[idx+1:]
}

// stringKey extracts a non-empty string field from a raw external record.
func stringKey(field string) func(raw map[string]any) (string, bool) {
	return func(raw map[string]any) (string, bool) {
		v, ok := raw[field].(string)
		return v, ok && v != ""
	}
}

// localRef extracts a non-empty string reference from a local record.
func localRef(field string) func(rec *domain.Record) (string, bool) {
	return func(rec *domain.Record) (string, bool) {
		v, ok := rec.Fields[field].(string)
		return v, ok && v != ""
	}
}
