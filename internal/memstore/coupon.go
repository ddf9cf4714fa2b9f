package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"github.com/seujia/storefront/internal/coupon"
)

type couponRepo struct {
	s *Store
}

// byCode looks a coupon up by its upper-cased code. Callers hold the lock.
func (r *couponRepo) byCode(code string) (*coupon.Coupon, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range r.s.coupons {
		if c.Code == code {
			return c, true
		}
	}
	return nil, false
}

func (r *couponRepo) GetByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.byCode(code)
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	return copyCoupon(c), nil
}

func (r *couponRepo) GetByID(_ context.Context, id uuid.UUID) (*coupon.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.coupons[id]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	return copyCoupon(c), nil
}

func (r *couponRepo) List(_ context.Context) ([]coupon.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	coupons := make([]coupon.Coupon, 0, len(r.s.coupons))
	for _, c := range r.s.coupons {
		coupons = append(coupons, *c)
	}
	sort.Slice(coupons, func(i, j int) bool { return coupons[i].CreatedAt.After(coupons[j].CreatedAt) })
	return coupons, nil
}

func (r *couponRepo) Create(_ context.Context, c *coupon.Coupon) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.byCode(c.Code); ok {
		return coupon.ErrCodeExists
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.Must(uuid.NewV4())
	}
	now := time.Now().UTC()
	c.Code = strings.ToUpper(c.Code)
	c.CreatedAt = now
	c.UpdatedAt = now
	r.s.coupons[c.ID] = copyCoupon(c)
	return nil
}

func (r *couponRepo) Update(_ context.Context, c *coupon.Coupon) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.coupons[c.ID]
	if !ok {
		return coupon.ErrCouponNotFound
	}
	if other, ok := r.byCode(c.Code); ok && other.ID != c.ID {
		return coupon.ErrCodeExists
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	r.s.coupons[c.ID] = copyCoupon(c)
	return nil
}

func (r *couponRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.coupons[id]; !ok {
		return coupon.ErrCouponNotFound
	}
	delete(r.s.coupons, id)
	return nil
}

func (r *couponRepo) IncrementUses(_ context.Context, code string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.byCode(code)
	if !ok {
		return coupon.ErrCouponNotFound
	}
	if c.Exhausted() {
		return coupon.ErrUsageCapped
	}
	c.CurrentUses++
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *couponRepo) DecrementUses(_ context.Context, code string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.byCode(code)
	if !ok {
		return coupon.ErrCouponNotFound
	}
	c.CurrentUses = max(c.CurrentUses-1, 0)
	c.UpdatedAt = time.Now().UTC()
	return nil
}
