package domain

import (
	"testing"
	"time"
)

func TestGenerateID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateID()
		if id == "" {
			t.Fatal("expected non-empty id")
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestNewBinding_Unbound(t *testing.T) {
	b := NewBinding("backend-1", "partner", "local-1")

	if b.ID == "" {
		t.Error("expected generated id")
	}
	if b.Bound() {
		t.Error("new binding must be unbound")
	}
	if b.Synced() {
		t.Error("new binding must not be synced")
	}
	if _, ok := b.External(); ok {
		t.Error("expected no external id")
	}
}

func TestBinding_ZeroExternalID(t *testing.T) {
	// "0" is a valid external identity and must be distinguishable from
	// "no binding".
	b := NewBinding("backend-1", "partner", "local-1")
	zero := "0"
	b.ExternalID = &zero

	if !b.Bound() {
		t.Fatal("binding with external id \"0\" must count as bound")
	}
	ext, ok := b.External()
	if !ok || ext != "0" {
		t.Fatalf("expected external id \"0\", got %q (ok=%v)", ext, ok)
	}
}

func TestBinding_Synced(t *testing.T) {
	b := NewBinding("backend-1", "partner", "local-1")
	now := time.Now()
	b.SyncDate = &now

	if !b.Synced() {
		t.Error("expected synced binding")
	}
}
