package billing

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Plan binds a provider price to a tier and its capabilities.
// PriceID must be the provider's price identifier (e.g. price_xxx for
// Stripe or pri_xxx for Paddle) so checkout and reconciliation can map in
// both directions without extra lookups.
type Plan struct {
	PriceID     string    `yaml:"price_id"`
	Tier        Tier      `yaml:"tier"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Features    []Feature `yaml:"features"`
	Public      bool      `yaml:"public"` // available for self-service checkout
}

// HasFeature reports whether the plan grants the given feature.
func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}

// PlansSource loads the plan catalog at service construction time.
type PlansSource interface {
	Load(ctx context.Context) ([]Plan, error)
}

// Catalog is the validated, immutable plan set keyed by price ID.
type Catalog struct {
	byPrice map[string]Plan
}

// NewCatalog validates the plan list and indexes it by price ID.
// The free tier never appears in the catalog: it is the default state of
// every account and has no provider price.
func NewCatalog(plans []Plan) (*Catalog, error) {
	byPrice := make(map[string]Plan, len(plans))
	for _, p := range plans {
		if p.PriceID == "" {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %q has no price ID", p.Name))
		}
		if !p.Tier.Valid() || p.Tier == TierFree {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %q has invalid tier %q", p.Name, p.Tier))
		}
		if _, exists := byPrice[p.PriceID]; exists {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("duplicate price ID %q", p.PriceID))
		}
		byPrice[p.PriceID] = p
	}
	return &Catalog{byPrice: byPrice}, nil
}

// ByPrice resolves a provider price ID to its plan.
func (c *Catalog) ByPrice(priceID string) (Plan, bool) {
	p, ok := c.byPrice[priceID]
	return p, ok
}

// TierFor maps a provider price ID to a tier. Unknown prices map to free so
// a notification for a price outside the catalog never grants entitlement.
func (c *Catalog) TierFor(priceID string) Tier {
	if p, ok := c.byPrice[priceID]; ok {
		return p.Tier
	}
	return TierFree
}

// Plans returns the catalog in stable price-ID order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.byPrice))
	for _, p := range c.byPrice {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Plan) int {
		switch {
		case a.PriceID < b.PriceID:
			return -1
		case a.PriceID > b.PriceID:
			return 1
		}
		return 0
	})
	return out
}
