package catalog

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Variant struct {
	Size  string          `json:"size"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type Product struct {
	ID          uuid.UUID       `json:"id"`
	Slug        string          `json:"slug"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    *string         `json:"image_url,omitempty"`
	Stock       int             `json:"stock"`
	IsActive    bool            `json:"is_active"`
	Variants    []Variant       `json:"variants"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (p *Product) HasVariants() bool {
	return len(p.Variants) > 0
}

func (p *Product) Variant(size string) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].Size == size {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// PriceFor returns the unit price for the given variant, or the base price
// when size is nil.
func (p *Product) PriceFor(size *string) (decimal.Decimal, error) {
	if size == nil {
		return p.Price, nil
	}
	v, ok := p.Variant(*size)
	if !ok {
		return decimal.Zero, ErrVariantNotFound
	}
	return v.Price, nil
}
