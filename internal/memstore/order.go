package memstore

import (
	"context"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"github.com/seujia/storefront/internal/order"
)

type orderRepo struct {
	s *Store
}

func (r *orderRepo) Create(_ context.Context, o *order.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if o.ID == uuid.Nil {
		o.ID = uuid.Must(uuid.NewV4())
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	for i := range o.Items {
		o.Items[i].ID = uuid.Must(uuid.NewV4())
		o.Items[i].OrderID = o.ID
		o.Items[i].CreatedAt = now
	}
	r.s.orders[o.ID] = copyOrder(o)
	return nil
}

func (r *orderRepo) find(match func(*order.Order) bool) (*order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, o := range r.s.orders {
		if match(o) {
			return copyOrder(o), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (r *orderRepo) GetByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	return r.find(func(o *order.Order) bool { return o.ID == id })
}

func (r *orderRepo) GetByNumber(_ context.Context, number string) (*order.Order, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	return r.find(func(o *order.Order) bool { return o.OrderNumber == number })
}

func (r *orderRepo) GetByPaymentIntent(_ context.Context, intentID string) (*order.Order, error) {
	return r.find(func(o *order.Order) bool { return o.PaymentIntentID != nil && *o.PaymentIntentID == intentID })
}

func (r *orderRepo) collect(match func(*order.Order) bool) []order.Order {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	orders := make([]order.Order, 0)
	for _, o := range r.s.orders {
		if match(o) {
			orders = append(orders, *copyOrder(o))
		}
	}
	sortNewestFirst(orders)
	return orders
}

func (r *orderRepo) List(_ context.Context, filter order.ListFilter) ([]order.Order, error) {
	orders := r.collect(func(o *order.Order) bool {
		return filter.Status == nil || o.Status == *filter.Status
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	start := min(max(filter.Offset, 0), len(orders))
	end := min(start+limit, len(orders))
	return orders[start:end], nil
}

func (r *orderRepo) ListByEmail(_ context.Context, email string) ([]order.Order, error) {
	email = strings.TrimSpace(email)
	return r.collect(func(o *order.Order) bool { return strings.EqualFold(o.CustomerEmail, email) }), nil
}

// mutate applies fn to the stored order under the lock.
func (r *orderRepo) mutate(id uuid.UUID, fn func(o *order.Order) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	if err := fn(o); err != nil {
		return err
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *orderRepo) SetPaymentIntent(_ context.Context, id uuid.UUID, intentID string) error {
	return r.mutate(id, func(o *order.Order) error {
		o.PaymentIntentID = &intentID
		return nil
	})
}

func (r *orderRepo) RecordShortfall(_ context.Context, id uuid.UUID, items []order.OrderItem) error {
	shortfalls := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		shortfalls[item.ID] = item.Shortfall
	}
	return r.mutate(id, func(o *order.Order) error {
		total := 0
		for i := range o.Items {
			if n, ok := shortfalls[o.Items[i].ID]; ok {
				o.Items[i].Shortfall = n
			}
			total += o.Items[i].Shortfall
		}
		o.StockShortfall = total
		return nil
	})
}

func (r *orderRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to order.Status) error {
	return r.mutate(id, func(o *order.Order) error {
		if o.Status != from {
			return order.ErrStatusConflict
		}
		o.Status = to
		return nil
	})
}

func (r *orderRepo) UpdateTracking(_ context.Context, id uuid.UUID, u order.TrackingUpdate) error {
	return r.mutate(id, func(o *order.Order) error {
		if o.Status.Terminal() {
			return order.ErrStatusConflict
		}
		o.CourierName = &u.CourierName
		o.AWBCode = &u.AWBCode
		o.TrackingURL = u.TrackingURL
		o.ShipmentStatus = u.ShipmentStatus
		o.EstimatedDelivery = u.EstimatedDelivery
		if o.Status == order.StatusPending {
			o.Status = order.StatusProcessing
		}
		return nil
	})
}

func (r *orderRepo) MarkPaid(_ context.Context, id uuid.UUID) (bool, error) {
	changed := false
	err := r.mutate(id, func(o *order.Order) error {
		if o.PaymentStatus == order.PaymentPaid {
			return nil
		}
		o.PaymentStatus = order.PaymentPaid
		if o.Status == order.StatusPending {
			o.Status = order.StatusProcessing
		}
		changed = true
		return nil
	})
	return changed, err
}

func (r *orderRepo) MarkPaymentFailed(_ context.Context, id uuid.UUID) (bool, error) {
	changed := false
	err := r.mutate(id, func(o *order.Order) error {
		if o.PaymentStatus != order.PaymentPending {
			return nil
		}
		o.PaymentStatus = order.PaymentFailed
		changed = true
		return nil
	})
	return changed, err
}

func (r *orderRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.orders[id]; !ok {
		return order.ErrOrderNotFound
	}
	delete(r.s.orders, id)
	return nil
}
