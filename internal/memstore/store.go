// Package memstore keeps the catalog, coupons and orders in process memory.
// It backs STORAGE_DRIVER=memory and the service tests, and applies the same
// atomic stock and coupon rules as the Postgres repositories.
package memstore

import (
	"sort"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/seujia/storefront/internal/catalog"
	"github.com/seujia/storefront/internal/coupon"
	"github.com/seujia/storefront/internal/inventory"
	"github.com/seujia/storefront/internal/order"
)

type Store struct {
	mu       sync.Mutex
	products map[uuid.UUID]*catalog.Product
	coupons  map[uuid.UUID]*coupon.Coupon
	orders   map[uuid.UUID]*order.Order
}

func New() *Store {
	return &Store{
		products: make(map[uuid.UUID]*catalog.Product),
		coupons:  make(map[uuid.UUID]*coupon.Coupon),
		orders:   make(map[uuid.UUID]*order.Order),
	}
}

func (s *Store) Products() catalog.Repository { return &productRepo{s: s} }
func (s *Store) Inventory() inventory.Store   { return &stockStore{s: s} }
func (s *Store) Coupons() coupon.Repository   { return &couponRepo{s: s} }
func (s *Store) Orders() order.Repository     { return &orderRepo{s: s} }

// AddProduct stores a copy of p, assigning an id when it has none.
func (s *Store) AddProduct(p catalog.Product) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.Must(uuid.NewV4())
	}
	cp := copyProduct(&p)
	s.products[p.ID] = cp
	return p.ID
}

// Stock returns the current stock of a product or one of its variants.
func (s *Store) Stock(productID uuid.UUID, variantSize *string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return 0, false
	}
	if variantSize == nil {
		return p.Stock, true
	}
	v, ok := p.Variant(*variantSize)
	if !ok {
		return 0, false
	}
	return v.Stock, true
}

// Seed loads the demo catalog used for local development.
func (s *Store) Seed() {
	price := decimal.RequireFromString
	s.AddProduct(catalog.Product{
		ID:          uuid.FromStringOrNil("5f1d7c52-3c1b-4d8e-9a44-0c1f6b1f2a01"),
		Slug:        "wild-forest-honey",
		Name:        "Wild Forest Honey",
		Description: "Raw honey harvested from the forests of Assam.",
		Price:       price("349"),
		IsActive:    true,
		Variants: []catalog.Variant{
			{Size: "250g", Price: price("189"), Stock: 50},
			{Size: "500g", Price: price("349"), Stock: 30},
			{Size: "1kg", Price: price("649"), Stock: 10},
		},
	})
	s.AddProduct(catalog.Product{
		ID:          uuid.FromStringOrNil("5f1d7c52-3c1b-4d8e-9a44-0c1f6b1f2a02"),
		Slug:        "litchi-honey",
		Name:        "Litchi Honey",
		Description: "Light floral honey from litchi orchards.",
		Price:       price("299"),
		IsActive:    true,
		Variants: []catalog.Variant{
			{Size: "250g", Price: price("159"), Stock: 40},
			{Size: "500g", Price: price("299"), Stock: 25},
		},
	})
	s.AddProduct(catalog.Product{
		ID:          uuid.FromStringOrNil("5f1d7c52-3c1b-4d8e-9a44-0c1f6b1f2a03"),
		Slug:        "honey-comb",
		Name:        "Honey Comb",
		Description: "Whole comb cut from the frame.",
		Price:       price("189"),
		Stock:       40,
		IsActive:    true,
	})
}

func copyProduct(p *catalog.Product) *catalog.Product {
	cp := *p
	cp.Variants = append([]catalog.Variant(nil), p.Variants...)
	return &cp
}

func copyCoupon(c *coupon.Coupon) *coupon.Coupon {
	cp := *c
	return &cp
}

func copyOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = append([]order.OrderItem{}, o.Items...)
	return &cp
}

func sortNewestFirst(orders []order.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
