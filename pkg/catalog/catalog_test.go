package catalog

import "testing"

func TestResolveLegacyAlias(t *testing.T) {
	cat := Default()

	if got := cat.Resolve("orders", "client_email"); got != "email" {
		t.Fatalf("expected client_email to resolve to email, got %q", got)
	}
	if got := cat.Resolve("orders", "status"); got != "order_status_id" {
		t.Fatalf("expected status to resolve to order_status_id, got %q", got)
	}
	if got := cat.Resolve("orders", "email"); got != "email" {
		t.Fatalf("current keys must resolve to themselves, got %q", got)
	}
	if got := cat.Resolve("orders", "unknown_key"); got != "unknown_key" {
		t.Fatalf("unknown keys must pass through, got %q", got)
	}
}

func TestLabelLookup(t *testing.T) {
	cat := Default()

	if got := cat.Label("orders", "order_id"); got != "ID zamówienia" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := cat.Label("orders", "email"); got != "Email" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := cat.Label("orders", "mystery"); got != "mystery" {
		t.Fatalf("unknown key must fall back to itself, got %q", got)
	}
}

func TestNeeds(t *testing.T) {
	cat := Default()

	if !cat.Needs("orders", []string{"order_id", "invoice_number"}, NeedsDocument) {
		t.Fatal("invoice_number must require document enrichment")
	}
	if cat.Needs("orders", []string{"order_id", "email"}, NeedsDocument) {
		t.Fatal("plain fields must not require document enrichment")
	}
	if !cat.Needs("order_items", []string{"sku"}, NeedsDetail) {
		t.Fatal("sku must require detail enrichment")
	}
}

func TestLoadMissingPathUsesDefaults(t *testing.T) {
	cat, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cat.Datasets) == 0 {
		t.Fatal("default catalog must not be empty")
	}
	if _, ok := cat.Datasets["orders"]; !ok {
		t.Fatal("default catalog must define the orders dataset")
	}
}
