package billing

import "github.com/open-rails/paykit/entitlements"

// Option is one row of the public subscription catalog.
type Option struct {
	Name         string `json:"name"`
	PriceMonthly int64  `json:"price_monthly"`
	PriceYearly  int64  `json:"price_yearly"`
	AITokens     int64  `json:"ai_tokens"`
	Storage      int64  `json:"storage"`
}

// DefaultOptions returns the static subscription catalog.
func DefaultOptions() []Option {
	return []Option{
		{Name: "Basic", PriceMonthly: 1, PriceYearly: 12, AITokens: 10, Storage: 50},
		{Name: "Advanced", PriceMonthly: 2, PriceYearly: 24, AITokens: 20, Storage: 100},
		{Name: "Pro", PriceMonthly: 3, PriceYearly: 36, AITokens: 30, Storage: 150},
	}
}

// Catalog maps tiers onto payment-provider price references.
type Catalog struct {
	options []Option
	prices  map[entitlements.Tier]string
}

// NewCatalog builds a catalog from a tier-name -> price-id table.
// Unknown tier names in the table are ignored.
func NewCatalog(priceIDs map[string]string) *Catalog {
	prices := make(map[entitlements.Tier]string, len(priceIDs))
	for name, id := range priceIDs {
		tier, ok := entitlements.ParseTier(name)
		if !ok || tier == entitlements.TierNone || id == "" {
			continue
		}
		prices[tier] = id
	}
	return &Catalog{options: DefaultOptions(), prices: prices}
}

// Options returns the public catalog rows.
func (c *Catalog) Options() []Option { return c.options }

// PriceFor resolves the payment-provider price reference for a tier.
func (c *Catalog) PriceFor(tier entitlements.Tier) (string, bool) {
	id, ok := c.prices[tier]
	return id, ok
}
