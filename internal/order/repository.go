package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/seujia/storefront/internal/db"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict means the order changed state between read and write.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

type Repository interface {
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	GetByPaymentIntent(ctx context.Context, intentID string) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, error)
	ListByEmail(ctx context.Context, email string) ([]Order, error)

	SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error
	RecordShortfall(ctx context.Context, id uuid.UUID, items []OrderItem) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	UpdateTracking(ctx context.Context, id uuid.UUID, update TrackingUpdate) error
	MarkPaid(ctx context.Context, id uuid.UUID) (bool, error)
	MarkPaymentFailed(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	db db.DB
}

func NewRepository(db db.DB) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `id, order_number, customer_name, customer_email, customer_phone, shipping_address,
	shipping_region, shipping_pincode, subtotal, discount_amount, delivery_charge, total, coupon_code,
	payment_provider, payment_intent_id, payment_status, order_status, stock_shortfall,
	courier_name, awb_code, tracking_url, shipment_status, estimated_delivery, created_at, updated_at`

const itemColumns = `id, order_id, product_id, product_name, variant_size, quantity, product_price, subtotal, shortfall, legacy, created_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CustomerName,
		&o.CustomerEmail,
		&o.CustomerPhone,
		&o.ShippingAddress,
		&o.ShippingRegion,
		&o.ShippingPincode,
		&o.Subtotal,
		&o.DiscountAmount,
		&o.DeliveryCharge,
		&o.Total,
		&o.CouponCode,
		&o.PaymentProvider,
		&o.PaymentIntentID,
		&o.PaymentStatus,
		&o.Status,
		&o.StockShortfall,
		&o.CourierName,
		&o.AWBCode,
		&o.TrackingURL,
		&o.ShipmentStatus,
		&o.EstimatedDelivery,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Items = make([]OrderItem, 0)
	return &o, nil
}

func scanItem(row pgx.Row) (OrderItem, error) {
	var item OrderItem
	err := row.Scan(
		&item.ID,
		&item.OrderID,
		&item.ProductID,
		&item.ProductName,
		&item.VariantSize,
		&item.Quantity,
		&item.ProductPrice,
		&item.Subtotal,
		&item.Shortfall,
		&item.Legacy,
		&item.CreatedAt,
	)
	return item, err
}

func (r *postgresRepository) Create(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order id: %w", err)
		}
		o.ID = id
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	err := db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO sales.orders (
				id, order_number, customer_name, customer_email, customer_phone, shipping_address,
				shipping_region, shipping_pincode, subtotal, discount_amount, delivery_charge, total,
				coupon_code, payment_provider, payment_status, order_status, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			o.ID,
			o.OrderNumber,
			o.CustomerName,
			o.CustomerEmail,
			o.CustomerPhone,
			o.ShippingAddress,
			o.ShippingRegion,
			o.ShippingPincode,
			o.Subtotal,
			o.DiscountAmount,
			o.DeliveryCharge,
			o.Total,
			o.CouponCode,
			string(o.PaymentProvider),
			string(o.PaymentStatus),
			string(o.Status),
			o.CreatedAt,
			o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order: %w", err)
		}

		for i := range o.Items {
			item := &o.Items[i]
			itemID, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("repository: failed to generate order item id: %w", err)
			}
			item.ID = itemID
			item.OrderID = o.ID
			item.CreatedAt = now

			_, err = tx.Exec(ctx, `
				INSERT INTO sales.order_items (id, order_id, product_id, product_name, variant_size, quantity, product_price, subtotal, legacy, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				item.ID,
				item.OrderID,
				item.ProductID,
				item.ProductName,
				item.VariantSize,
				item.Quantity,
				item.ProductPrice,
				item.Subtotal,
				item.Legacy,
				item.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", o.ID).Msg("repository: transaction for order creation failed")
		return err
	}
	return nil
}

func (r *postgresRepository) getOne(ctx context.Context, where string, arg any) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM sales.orders WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order: %w", err)
	}
	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.getOne(ctx, `id = $1`, id)
}

func (r *postgresRepository) GetByNumber(ctx context.Context, number string) (*Order, error) {
	return r.getOne(ctx, `order_number = $1`, strings.ToUpper(strings.TrimSpace(number)))
}

func (r *postgresRepository) GetByPaymentIntent(ctx context.Context, intentID string) (*Order, error) {
	return r.getOne(ctx, `payment_intent_id = $1`, intentID)
}

func (r *postgresRepository) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + orderColumns + ` FROM sales.orders`
	args := []any{}
	if filter.Status != nil {
		query += ` WHERE order_status = $1`
		args = append(args, string(*filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, max(filter.Offset, 0))

	return r.queryOrders(ctx, query, args...)
}

func (r *postgresRepository) ListByEmail(ctx context.Context, email string) ([]Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM sales.orders WHERE LOWER(customer_email) = LOWER($1) ORDER BY created_at DESC`,
		strings.TrimSpace(email),
	)
}

func (r *postgresRepository) queryOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders: %w", err)
	}

	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}

	result := make([]Order, 0, len(orders))
	for _, o := range orders {
		result = append(result, *o)
	}
	return result, nil
}

func (r *postgresRepository) loadItems(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*Order, len(orders))
	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+itemColumns+` FROM sales.order_items WHERE order_id = ANY($1) ORDER BY created_at, id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: failed iterating order items: %w", err)
	}
	return nil
}

func (r *postgresRepository) SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sales.orders SET payment_intent_id = $2, updated_at = NOW() WHERE id = $1`,
		id, intentID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to store payment intent for order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) RecordShortfall(ctx context.Context, id uuid.UUID, items []OrderItem) error {
	return db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		total := 0
		for _, item := range items {
			total += item.Shortfall
			if _, err := tx.Exec(ctx,
				`UPDATE sales.order_items SET shortfall = $3 WHERE id = $1 AND order_id = $2`,
				item.ID, id, item.Shortfall,
			); err != nil {
				return fmt.Errorf("repository: failed to record item shortfall: %w", err)
			}
		}

		tag, err := tx.Exec(ctx,
			`UPDATE sales.orders SET stock_shortfall = $2, updated_at = NOW() WHERE id = $1`,
			id, total,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to record order shortfall: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrOrderNotFound
		}
		return nil
	})
}

// UpdateStatus moves the order from one status to another, failing with
// ErrStatusConflict when the stored status is no longer from.
func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sales.orders SET order_status = $3, updated_at = NOW() WHERE id = $1 AND order_status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Stringer("new_status", to).Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

func (r *postgresRepository) UpdateTracking(ctx context.Context, id uuid.UUID, u TrackingUpdate) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sales.orders
		SET courier_name = $2,
		    awb_code = $3,
		    tracking_url = $4,
		    shipment_status = $5,
		    estimated_delivery = $6,
		    order_status = CASE WHEN order_status = 'pending' THEN 'processing' ELSE order_status END,
		    updated_at = NOW()
		WHERE id = $1 AND order_status NOT IN ('delivered', 'cancelled')`,
		id, u.CourierName, u.AWBCode, u.TrackingURL, u.ShipmentStatus, u.EstimatedDelivery,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update tracking for order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

// MarkPaid records a captured payment. It reports false when the order was
// already paid.
func (r *postgresRepository) MarkPaid(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sales.orders
		SET payment_status = 'paid',
		    order_status = CASE WHEN order_status = 'pending' THEN 'processing' ELSE order_status END,
		    updated_at = NOW()
		WHERE id = $1 AND payment_status <> 'paid'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("repository: failed to mark order %s paid: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *postgresRepository) MarkPaymentFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE sales.orders SET payment_status = 'failed', updated_at = NOW() WHERE id = $1 AND payment_status = 'pending'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("repository: failed to mark order %s payment failed: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sales.orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: failed to delete order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) missingOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sales.orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("repository: failed to check order %s: %w", id, err)
	}
	if !exists {
		return ErrOrderNotFound
	}
	return ErrStatusConflict
}
