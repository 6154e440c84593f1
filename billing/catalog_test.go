package billing

import (
	"testing"

	"github.com/open-rails/paykit/entitlements"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if len(opts) != 3 {
		t.Fatalf("got %d options, want 3", len(opts))
	}
	want := []Option{
		{Name: "Basic", PriceMonthly: 1, PriceYearly: 12, AITokens: 10, Storage: 50},
		{Name: "Advanced", PriceMonthly: 2, PriceYearly: 24, AITokens: 20, Storage: 100},
		{Name: "Pro", PriceMonthly: 3, PriceYearly: 36, AITokens: 30, Storage: 150},
	}
	for i := range want {
		if opts[i] != want[i] {
			t.Errorf("option %d: got %+v, want %+v", i, opts[i], want[i])
		}
	}
}

func TestCatalogPriceFor(t *testing.T) {
	c := NewCatalog(map[string]string{
		"basic":    "price_basic",
		"Pro":      "price_pro", // tier names normalize
		"platinum": "price_bogus",
		"advanced": "",
	})

	if id, ok := c.PriceFor(entitlements.TierBasic); !ok || id != "price_basic" {
		t.Errorf("basic: got (%q, %v)", id, ok)
	}
	if id, ok := c.PriceFor(entitlements.TierPro); !ok || id != "price_pro" {
		t.Errorf("pro: got (%q, %v)", id, ok)
	}
	if _, ok := c.PriceFor(entitlements.TierAdvanced); ok {
		t.Errorf("empty price id should be unmapped")
	}
	if _, ok := c.PriceFor(entitlements.TierNone); ok {
		t.Errorf("tier none should never price")
	}
}
