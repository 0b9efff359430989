package billing

import "github.com/digkill/drumgen/internal/tier"

// PriceTable maps processor price references to tiers.
type PriceTable struct {
	byTier  map[tier.ID]string
	byPrice map[string]tier.ID
}

func NewPriceTable(basic, pro, premium string) PriceTable {
	t := PriceTable{
		byTier:  make(map[tier.ID]string),
		byPrice: make(map[string]tier.ID),
	}
	for id, price := range map[tier.ID]string{tier.Basic: basic, tier.Pro: pro, tier.Premium: premium} {
		if price == "" {
			continue
		}
		t.byTier[id] = price
		t.byPrice[price] = id
	}
	return t
}

// TierForPrice resolves a price reference, falling back to Free.
func (t PriceTable) TierForPrice(price string) tier.ID {
	if id, ok := t.byPrice[price]; ok && price != "" {
		return id
	}
	return tier.Free
}

// PriceForTier returns the configured price for a paid tier.
func (t PriceTable) PriceForTier(id tier.ID) (string, bool) {
	price, ok := t.byTier[id]
	return price, ok
}
