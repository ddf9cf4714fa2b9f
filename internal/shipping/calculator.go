package shipping

import (
	"github.com/shopspring/decimal"
)

// Quote is a computed delivery charge.
type Quote struct {
	BaseCharge            decimal.Decimal  `json:"base_charge"`
	CODCharge             decimal.Decimal  `json:"cod_charge"`
	Total                 decimal.Decimal  `json:"total"`
	IsFree                bool             `json:"is_free"`
	SavedAmount           decimal.Decimal  `json:"saved_amount"`
	FreeShippingThreshold *decimal.Decimal `json:"free_shipping_threshold,omitempty"`
	AmountToFreeShipping  *decimal.Decimal `json:"amount_to_free_shipping,omitempty"`
	Carrier               string           `json:"carrier,omitempty"`
	ETA                   string           `json:"eta,omitempty"`
}

type Calculator struct {
	catalog *Catalog
}

func NewCalculator(catalog *Catalog) *Calculator {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Calculator{catalog: catalog}
}

// Compute derives the delivery charge for an order of orderValue shipped to
// region. Cash-on-delivery orders never ship free.
func (c *Calculator) Compute(region string, orderValue decimal.Decimal, isCOD bool) Quote {
	rate, _ := c.catalog.Lookup(region)
	return applyRate(rate.BaseCharge, rate.CODCharge, rate.FreeShippingThreshold, orderValue, isCOD)
}

func applyRate(base, cod decimal.Decimal, threshold *decimal.Decimal, orderValue decimal.Decimal, isCOD bool) Quote {
	q := Quote{FreeShippingThreshold: threshold}

	if threshold != nil {
		remaining := threshold.Sub(orderValue)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		remaining = remaining.Round(2)
		q.AmountToFreeShipping = &remaining
	}

	if !isCOD && threshold != nil && orderValue.GreaterThanOrEqual(*threshold) {
		q.IsFree = true
		q.BaseCharge = decimal.Zero
		q.CODCharge = decimal.Zero
		q.Total = decimal.Zero
		q.SavedAmount = base.Round(2)
		return q
	}

	q.BaseCharge = base.Round(2)
	q.CODCharge = decimal.Zero
	if isCOD {
		q.CODCharge = cod.Round(2)
	}
	q.Total = q.BaseCharge.Add(q.CODCharge)
	q.SavedAmount = decimal.Zero
	return q
}
