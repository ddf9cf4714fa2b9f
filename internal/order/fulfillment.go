package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/seujia/storefront/internal/notify"
	"github.com/seujia/storefront/internal/payment"
)

const defaultShipmentStatus = "shipped"

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

var sizeToken = regexp.MustCompile(`\(([^()]+)\)\s*$`)

// sizeFromName extracts the size embedded in a snapshotted product name,
// e.g. "Wild Forest Honey (500g)" yields "500g".
func sizeFromName(name string) (string, bool) {
	m := sizeToken.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	size := strings.TrimSpace(m[1])
	return size, size != ""
}

func (s *service) AttachTracking(ctx context.Context, id uuid.UUID, u TrackingUpdate) (*Order, error) {
	u.CourierName = strings.TrimSpace(u.CourierName)
	u.AWBCode = strings.TrimSpace(u.AWBCode)
	if u.CourierName == "" || u.AWBCode == "" {
		return nil, invalid("Courier name and AWB code are required")
	}
	if u.ShipmentStatus == nil || strings.TrimSpace(*u.ShipmentStatus) == "" {
		status := defaultShipmentStatus
		u.ShipmentStatus = &status
	}

	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		log.Warn().Stringer("order_id", id).Stringer("current_status", current.Status).Msg("service: cannot attach tracking to a closed order")
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidStatusTransition, current.Status)
	}

	if err := s.repo.UpdateTracking(ctx, id, u); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, fmt.Errorf("%w: order was closed concurrently", ErrInvalidStatusTransition)
		}
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to update tracking in repository")
		return nil, fmt.Errorf("service: failed to update tracking: %w", err)
	}

	updated, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	log.Info().Stringer("order_id", id).Str("awb_code", u.AWBCode).Str("courier", u.CourierName).Msg("service: tracking attached")

	s.sendShipment(updated, u)
	return updated, nil
}

// MarkDelivered closes an order that is being processed or is in transit.
func (s *service) MarkDelivered(ctx context.Context, id uuid.UUID) (*Order, error) {
	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusDelivered {
		log.Info().Stringer("order_id", id).Msg("service: order already delivered, no update needed")
		return current, nil
	}
	if current.Status != StatusProcessing && current.Status != StatusShipped {
		log.Warn().Stringer("order_id", id).Stringer("current_status", current.Status).Msg("service: order cannot be marked delivered")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, current.Status, StatusDelivered)
	}

	if err := s.transition(ctx, current, StatusDelivered); err != nil {
		return nil, err
	}

	s.sendDelivered(current)
	return current, nil
}

func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, invalid("Unknown order status: %s", to)
	}
	if to == StatusDelivered {
		return s.MarkDelivered(ctx, id)
	}

	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == to {
		log.Info().Stringer("order_id", id).Stringer("status", to).Msg("service: order status is already the same, no update needed")
		return current, nil
	}
	if !CanTransition(current.Status, to) {
		log.Warn().
			Stringer("order_id", id).
			Stringer("current_status", current.Status).
			Stringer("new_status", to).
			Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, current.Status, to)
	}

	if err := s.transition(ctx, current, to); err != nil {
		return nil, err
	}

	if to == StatusCancelled {
		s.compensate(ctx, current)
	}
	return current, nil
}

// transition persists a status change guarded by the status the caller saw.
func (s *service) transition(ctx context.Context, o *Order, to Status) error {
	from := o.Status
	if err := s.repo.UpdateStatus(ctx, o.ID, from, to); err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			return ErrOrderNotFound
		case errors.Is(err, ErrStatusConflict):
			log.Warn().Stringer("order_id", o.ID).Stringer("new_status", to).Msg("service: order status changed concurrently")
			return fmt.Errorf("%w: order status changed concurrently", ErrInvalidStatusTransition)
		}
		log.Error().Err(err).Stringer("order_id", o.ID).Stringer("new_status", to).Msg("service: failed to update order status in repository")
		return fmt.Errorf("service: failed to update order status: %w", err)
	}

	o.Status = to
	log.Info().Stringer("order_id", o.ID).Stringer("old_status", from).Stringer("new_status", to).Msg("service: order status updated successfully")
	return nil
}

// compensate returns reserved stock and coupon usage of an order. Each step
// is independent; failures are logged and skipped.
func (s *service) compensate(ctx context.Context, o *Order) {
	for _, item := range o.Items {
		qty := item.Reserved()
		if qty <= 0 {
			continue
		}
		size := s.releaseTarget(ctx, item)
		if err := s.inventory.Release(ctx, item.ProductID, size, qty); err != nil {
			log.Error().Err(err).
				Stringer("order_id", o.ID).
				Stringer("item_id", item.ID).
				Stringer("product_id", item.ProductID).
				Msg("service: failed to restore stock for order item, skipping")
			continue
		}
	}

	if o.CouponCode != nil && s.coupons != nil {
		if err := s.coupons.DecrementUses(ctx, *o.CouponCode); err != nil {
			log.Error().Err(err).Stringer("order_id", o.ID).Str("coupon_code", *o.CouponCode).Msg("service: failed to reverse coupon usage")
		}
	}
}

// releaseTarget picks the stock row an item is returned to: its recorded
// variant, the size parsed from the name of a legacy item when the product
// still has that variant, or the base stock.
func (s *service) releaseTarget(ctx context.Context, item OrderItem) *string {
	if item.VariantSize != nil {
		return item.VariantSize
	}
	if !item.Legacy || s.products == nil {
		return nil
	}

	size, ok := sizeFromName(item.ProductName)
	if !ok {
		return nil
	}
	product, err := s.products.GetByID(ctx, item.ProductID)
	if err != nil {
		log.Warn().Err(err).Stringer("product_id", item.ProductID).Msg("service: failed to load product for legacy item, using base stock")
		return nil
	}
	if _, ok := product.Variant(size); !ok {
		return nil
	}
	return &size
}

// DeleteOrder removes an order. An order that is not cancelled yet is first
// cancelled and its stock and coupon usage returned.
func (s *service) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	o, claimed, err := s.claimForDeletion(ctx, id)
	if err != nil {
		return err
	}
	if claimed {
		s.compensate(ctx, o)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to delete order in repository")
		return fmt.Errorf("service: failed to delete order: %w", err)
	}

	log.Info().Stringer("order_id", id).Str("order_number", o.OrderNumber).Bool("stock_restored", claimed).Msg("service: order deleted")
	return nil
}

const maxClaimAttempts = 5

// claimForDeletion moves the order to cancelled with a compare-and-set on its
// current status. claimed is true only for the caller whose update won.
func (s *service) claimForDeletion(ctx context.Context, id uuid.UUID) (*Order, bool, error) {
	for range maxClaimAttempts {
		o, err := s.GetOrder(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if o.Status == StatusCancelled {
			return o, false, nil
		}

		err = s.repo.UpdateStatus(ctx, id, o.Status, StatusCancelled)
		switch {
		case err == nil:
			log.Info().Stringer("order_id", id).Stringer("old_status", o.Status).Msg("service: order cancelled for deletion")
			o.Status = StatusCancelled
			return o, true, nil
		case errors.Is(err, ErrOrderNotFound):
			return nil, false, ErrOrderNotFound
		case errors.Is(err, ErrStatusConflict):
			log.Debug().Stringer("order_id", id).Msg("service: order status changed during deletion, retrying")
		default:
			log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to cancel order for deletion")
			return nil, false, fmt.Errorf("service: failed to cancel order for deletion: %w", err)
		}
	}
	return nil, false, fmt.Errorf("%w: order %s kept changing during deletion", ErrStatusConflict, id)
}

// HandleWebhook authenticates and decodes a gateway delivery before acting
// on it. Nothing is mutated unless the signature checks out.
func (s *service) HandleWebhook(ctx context.Context, provider payment.Provider, payload []byte, header http.Header) (payment.Event, error) {
	gateway := s.gateways[provider]
	if gateway == nil {
		return payment.Event{}, invalid("Payment provider %s is not configured", provider)
	}

	if err := gateway.VerifyWebhook(payload, header); err != nil {
		log.Warn().Err(err).Stringer("provider", provider).Msg("service: rejected webhook delivery")
		return payment.Event{}, err
	}

	ev, err := gateway.ParseWebhook(payload)
	if err != nil {
		log.Warn().Err(err).Stringer("provider", provider).Msg("service: failed to parse webhook payload")
		return payment.Event{}, err
	}

	return ev, s.HandlePaymentEvent(ctx, ev)
}

// HandlePaymentEvent applies a verified gateway event. Stock is never touched
// here; it was reserved at checkout.
func (s *service) HandlePaymentEvent(ctx context.Context, ev payment.Event) error {
	if !ev.Known() {
		log.Info().Str("event_type", ev.RawType).Stringer("provider", ev.Provider).Msg("service: ignoring unhandled webhook event")
		return nil
	}

	o, err := s.orderForEvent(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Str("order_number", ev.OrderNumber).Str("gateway_order_id", ev.GatewayOrderID).Msg("service: webhook for unknown order, ignoring")
			return nil
		}
		return err
	}

	switch ev.Kind {
	case payment.EventPaymentSucceeded:
		if ev.AmountMinor > 0 && ev.AmountMinor != payment.MinorUnits(o.Total) {
			log.Warn().Stringer("order_id", o.ID).Int64("paid", ev.AmountMinor).Int64("expected", payment.MinorUnits(o.Total)).Msg("service: captured amount differs from order total")
		}
		changed, err := s.repo.MarkPaid(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("service: failed to mark order paid: %w", err)
		}
		if !changed {
			log.Info().Stringer("order_id", o.ID).Msg("service: order already paid, webhook ignored")
			return nil
		}
		if o.Status == StatusCancelled {
			log.Warn().
				Stringer("order_id", o.ID).
				Str("order_number", o.OrderNumber).
				Str("gateway_payment_id", ev.GatewayPaymentID).
				Bool("refund_required", true).
				Msg("service: payment captured for a cancelled order, stock already released")
			return nil
		}
		log.Info().Stringer("order_id", o.ID).Str("gateway_payment_id", ev.GatewayPaymentID).Msg("service: payment captured")

	case payment.EventPaymentFailed:
		changed, err := s.repo.MarkPaymentFailed(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("service: failed to mark payment failed: %w", err)
		}
		if changed {
			log.Warn().Stringer("order_id", o.ID).Str("gateway_payment_id", ev.GatewayPaymentID).Msg("service: payment failed")
		}
	}
	return nil
}

func (s *service) orderForEvent(ctx context.Context, ev payment.Event) (*Order, error) {
	if ev.OrderNumber != "" {
		o, err := s.repo.GetByNumber(ctx, ev.OrderNumber)
		if err == nil || !errors.Is(err, ErrOrderNotFound) || ev.GatewayOrderID == "" {
			return o, err
		}
	}
	if ev.GatewayOrderID == "" {
		return nil, ErrOrderNotFound
	}
	return s.repo.GetByPaymentIntent(ctx, ev.GatewayOrderID)
}

func (s *service) trackingLink(awb string) string {
	return s.opts.BaseURL + "/track-order?awb=" + url.QueryEscape(awb)
}

func (s *service) sendShipment(o *Order, u TrackingUpdate) {
	if s.mailer == nil {
		return
	}

	link := s.trackingLink(u.AWBCode)
	if u.TrackingURL != nil && strings.TrimSpace(*u.TrackingURL) != "" {
		link = *u.TrackingURL
	}
	eta := ""
	if u.EstimatedDelivery != nil {
		eta = *u.EstimatedDelivery
	}

	msg, err := notify.Shipment(o.CustomerEmail, notify.ShipmentData{
		CustomerName:      o.CustomerName,
		OrderNumber:       o.OrderNumber,
		AWBCode:           u.AWBCode,
		CourierName:       u.CourierName,
		TrackingURL:       link,
		EstimatedDelivery: eta,
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to render shipment e-mail")
		return
	}
	s.mailer.Dispatch(msg)
}

func (s *service) sendDelivered(o *Order) {
	if s.mailer == nil {
		return
	}

	data := notify.DeliveredData{CustomerName: o.CustomerName, OrderNumber: o.OrderNumber}
	if o.AWBCode != nil {
		data.AWBCode = *o.AWBCode
	}
	msg, err := notify.Delivered(o.CustomerEmail, data)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to render delivery e-mail")
		return
	}
	s.mailer.Dispatch(msg)
}
