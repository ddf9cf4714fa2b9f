package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/gofrs/uuid"

	"github.com/seujia/storefront/internal/catalog"
	"github.com/seujia/storefront/internal/inventory"
)

type productRepo struct {
	s *Store
}

func (r *productRepo) GetByID(_ context.Context, id uuid.UUID) (*catalog.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return copyProduct(p), nil
}

func (r *productRepo) GetBySlug(_ context.Context, slug string) (*catalog.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, p := range r.s.products {
		if p.Slug == slug && p.IsActive {
			return copyProduct(p), nil
		}
	}
	return nil, catalog.ErrProductNotFound
}

func (r *productRepo) ListActive(_ context.Context) ([]catalog.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	products := make([]catalog.Product, 0, len(r.s.products))
	for _, p := range r.s.products {
		if p.IsActive {
			products = append(products, *copyProduct(p))
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

type stockStore struct {
	s *Store
}

// stockRef returns a pointer to the addressed stock counter. Callers hold
// the store lock.
func (st *stockStore) stockRef(productID uuid.UUID, variantSize *string) (*int, *catalog.Product, error) {
	p, ok := st.s.products[productID]
	if !ok {
		return nil, nil, catalog.ErrProductNotFound
	}
	if variantSize == nil {
		return &p.Stock, p, nil
	}
	v, ok := p.Variant(*variantSize)
	if !ok {
		return nil, nil, catalog.ErrVariantNotFound
	}
	return &v.Stock, p, nil
}

func (st *stockStore) Reserve(_ context.Context, productID uuid.UUID, variantSize *string, qty int) (inventory.Reservation, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	stock, p, err := st.stockRef(productID, variantSize)
	if err != nil {
		return inventory.Reservation{}, err
	}

	take := min(*stock, qty)
	*stock -= take
	p.UpdatedAt = time.Now().UTC()
	return inventory.Reservation{Reserved: take, Shortfall: qty - take}, nil
}

func (st *stockStore) Release(_ context.Context, productID uuid.UUID, variantSize *string, qty int) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	stock, p, err := st.stockRef(productID, variantSize)
	if err != nil {
		return err
	}
	*stock = max(*stock+qty, 0)
	p.UpdatedAt = time.Now().UTC()
	return nil
}
