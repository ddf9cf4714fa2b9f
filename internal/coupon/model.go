package coupon

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

func (d DiscountType) String() string {
	return string(d)
}

func (d DiscountType) Valid() bool {
	return d == DiscountPercentage || d == DiscountFixed
}

// Coupon is a discount code. MaxUses nil means unlimited.
type Coupon struct {
	ID            uuid.UUID       `json:"id"`
	Code          string          `json:"code"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	MinOrderValue decimal.Decimal `json:"min_order_value"`
	MaxUses       *int            `json:"max_uses"`
	CurrentUses   int             `json:"current_uses"`
	IsActive      bool            `json:"is_active"`
	ExpiresAt     *time.Time      `json:"expires_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (c *Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.CurrentUses >= *c.MaxUses
}

func (c *Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Discount computes the discount for subtotal, clamped so it never exceeds
// the subtotal.
func (c *Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		d = subtotal.Mul(c.DiscountValue).Div(decimal.NewFromInt(100))
	case DiscountFixed:
		d = c.DiscountValue
	}
	if d.GreaterThan(subtotal) {
		d = subtotal
	}
	if d.IsNegative() {
		d = decimal.Zero
	}
	return d.Round(2)
}

// Validation is the outcome of checking a code against a subtotal. An
// invalid coupon is not an error.
type Validation struct {
	Valid    bool            `json:"valid"`
	Discount decimal.Decimal `json:"discount"`
	NewTotal decimal.Decimal `json:"new_total"`
	Message  string          `json:"message"`
	Coupon   *Coupon         `json:"-"`
}
