package cart

import (
	"time"

	"github.com/gofrs/uuid"
)

const MaxLineQuantity = 99

type Item struct {
	ProductID   uuid.UUID `json:"product_id" validate:"required"`
	VariantSize *string   `json:"variant_size,omitempty"`
	Quantity    int       `json:"quantity" validate:"required,min=1,max=99"`
}

func (i Item) sameLine(other Item) bool {
	if i.ProductID != other.ProductID {
		return false
	}
	if i.VariantSize == nil || other.VariantSize == nil {
		return i.VariantSize == nil && other.VariantSize == nil
	}
	return *i.VariantSize == *other.VariantSize
}

// Cart is a server side shopping cart keyed by an opaque session id.
type Cart struct {
	SessionID string    `json:"session_id"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Add merges item into the cart, summing quantities of the same product and
// size. The merged quantity is capped at MaxLineQuantity.
func (c *Cart) Add(item Item) {
	for i := range c.Items {
		if c.Items[i].sameLine(item) {
			c.Items[i].Quantity = min(c.Items[i].Quantity+item.Quantity, MaxLineQuantity)
			return
		}
	}
	item.Quantity = min(item.Quantity, MaxLineQuantity)
	c.Items = append(c.Items, item)
}

func (c *Cart) Units() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}
