package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/seujia/storefront/internal/catalog"
	"github.com/seujia/storefront/internal/coupon"
	"github.com/seujia/storefront/internal/notify"
	"github.com/seujia/storefront/internal/payment"
	"github.com/seujia/storefront/internal/shipping"
)

const (
	msgOrderPlaced       = "Order placed successfully"
	msgPaymentPending    = "Order created, complete the payment to confirm it"
	msgCouponCapped      = "This coupon has reached its usage limit"
	msgCouponUnavailable = "Coupon could not be applied, please try again"
)

// Checkout turns a cart into an order. Steps run strictly in order and each
// one commits on its own. The coupon use is claimed before the order row is
// written; a failure after the row is written leaves the order pending.
func (s *service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := validateCheckout(req); err != nil {
		log.Warn().Err(err).Msg("service: rejected checkout request")
		return nil, err
	}

	var gateway payment.Gateway
	if req.PaymentMethod.Online() {
		gateway = s.gateways[req.PaymentMethod]
		if gateway == nil {
			return nil, invalid("Payment method %s is not available", req.PaymentMethod)
		}
	}

	items, subtotal, err := s.priceCart(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	discount, couponCode, couponMessage := s.applyCoupon(ctx, req.CouponCode, subtotal)
	total := subtotal.Sub(discount).Round(2)

	delivery, err := s.deliveryCharge(ctx, req, total, items)
	if err != nil {
		s.releaseCoupon(ctx, couponCode)
		return nil, err
	}
	grandTotal := total.Add(delivery).Round(2)

	number, err := NewOrderNumber(s.now())
	if err != nil {
		s.releaseCoupon(ctx, couponCode)
		return nil, fmt.Errorf("service: failed to generate order number: %w", err)
	}

	o := &Order{
		OrderNumber:     number,
		CustomerName:    strings.TrimSpace(req.Shipping.Name),
		CustomerEmail:   strings.TrimSpace(req.Shipping.Email),
		CustomerPhone:   strings.TrimSpace(req.Shipping.Phone),
		ShippingAddress: req.Shipping.FormattedAddress(),
		ShippingRegion:  strings.TrimSpace(req.Shipping.State),
		ShippingPincode: strings.TrimSpace(req.Shipping.Pincode),
		Subtotal:        subtotal,
		DiscountAmount:  discount,
		DeliveryCharge:  delivery,
		Total:           grandTotal,
		CouponCode:      couponCode,
		PaymentProvider: req.PaymentMethod,
		PaymentStatus:   PaymentPending,
		Status:          StatusPending,
		Items:           items,
	}

	if err := s.repo.Create(ctx, o); err != nil {
		log.Error().Err(err).Str("order_number", number).Msg("service: failed to create order in repository")
		s.releaseCoupon(ctx, couponCode)
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}
	log.Info().Stringer("order_id", o.ID).Str("order_number", o.OrderNumber).Str("total", o.Total.String()).Msg("service: order created")

	if err := s.reserveStock(ctx, o); err != nil {
		return nil, err
	}

	result := &CheckoutResult{
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		PaymentMethod:  o.PaymentProvider,
		Currency:       s.opts.Currency,
		Subtotal:       o.Subtotal,
		Discount:       o.DiscountAmount,
		DeliveryCharge: o.DeliveryCharge,
		Total:          o.Total,
		StockShortfall: o.StockShortfall,
		CouponMessage:  couponMessage,
		Message:        msgOrderPlaced,
	}

	if gateway != nil {
		intent, err := s.createIntent(ctx, gateway, o)
		if err != nil {
			return nil, err
		}
		result.GatewayOrderID = intent.GatewayOrderID
		result.ClientSecret = intent.ClientSecret
		result.Amount = intent.AmountMinor
		result.Message = msgPaymentPending
	}

	s.sendConfirmation(o)
	return result, nil
}

func validateCheckout(req CheckoutRequest) error {
	if len(req.Items) == 0 {
		return invalid("Cart is empty")
	}

	fields := []struct {
		name  string
		value string
	}{
		{"name", req.Shipping.Name},
		{"email", req.Shipping.Email},
		{"address", req.Shipping.Address},
		{"pincode", req.Shipping.Pincode},
		{"state", req.Shipping.State},
		{"district", req.Shipping.District},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return invalid("Missing shipping information: %s", f.name)
		}
	}

	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return invalid("Quantity must be greater than zero")
		}
	}

	if !req.PaymentMethod.Valid() {
		return invalid("Unknown payment method: %s", req.PaymentMethod)
	}
	if req.DeliveryCharge != nil && req.DeliveryCharge.IsNegative() {
		return invalid("Delivery charge cannot be negative")
	}
	return nil
}

// priceCart snapshots current catalog prices. Client supplied prices are
// never trusted.
func (s *service) priceCart(ctx context.Context, lines []CartLine) ([]OrderItem, decimal.Decimal, error) {
	items := make([]OrderItem, 0, len(lines))
	subtotal := decimal.Zero

	for _, line := range lines {
		product, err := s.products.GetByID(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				return nil, decimal.Zero, invalid("Product %s is not available", line.ProductID)
			}
			return nil, decimal.Zero, fmt.Errorf("service: failed to fetch product %s: %w", line.ProductID, err)
		}
		if !product.IsActive {
			return nil, decimal.Zero, invalid("%s is no longer available", product.Name)
		}

		size := line.VariantSize
		if size != nil && strings.TrimSpace(*size) == "" {
			size = nil
		}
		if product.HasVariants() && size == nil {
			return nil, decimal.Zero, invalid("Please choose a size for %s", product.Name)
		}

		price, err := product.PriceFor(size)
		if err != nil {
			return nil, decimal.Zero, invalid("Size %s is not available for %s", *size, product.Name)
		}

		name := product.Name
		if size != nil {
			name = fmt.Sprintf("%s (%s)", product.Name, *size)
		}

		lineTotal := price.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2)
		items = append(items, OrderItem{
			ProductID:    product.ID,
			ProductName:  name,
			VariantSize:  size,
			Quantity:     line.Quantity,
			ProductPrice: price.Round(2),
			Subtotal:     lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	return items, subtotal.Round(2), nil
}

// applyCoupon re-validates the code server side and claims one use of it.
// An invalid or exhausted coupon never blocks checkout, it just yields no
// discount. A returned code holds a claimed use that the caller must give
// back with releaseCoupon if the order is not placed.
func (s *service) applyCoupon(ctx context.Context, code *string, subtotal decimal.Decimal) (decimal.Decimal, *string, string) {
	if code == nil || strings.TrimSpace(*code) == "" || s.coupons == nil {
		return decimal.Zero, nil, ""
	}

	v, err := s.coupons.Validate(ctx, *code, subtotal)
	if err != nil {
		log.Error().Err(err).Str("coupon_code", *code).Msg("service: coupon validation failed, continuing without discount")
		return decimal.Zero, nil, ""
	}
	if !v.Valid {
		log.Info().Str("coupon_code", *code).Str("reason", v.Message).Msg("service: coupon not applied")
		return decimal.Zero, nil, v.Message
	}

	applied := strings.ToUpper(strings.TrimSpace(*code))
	if err := s.coupons.IncrementUses(ctx, applied); err != nil {
		if errors.Is(err, coupon.ErrUsageCapped) {
			log.Warn().Str("coupon_code", applied).Msg("service: coupon usage cap reached concurrently, discount dropped")
			return decimal.Zero, nil, msgCouponCapped
		}
		log.Error().Err(err).Str("coupon_code", applied).Msg("service: failed to claim coupon use, continuing without discount")
		return decimal.Zero, nil, msgCouponUnavailable
	}
	return v.Discount, &applied, v.Message
}

func (s *service) releaseCoupon(ctx context.Context, code *string) {
	if code == nil {
		return
	}
	if err := s.coupons.DecrementUses(ctx, *code); err != nil {
		log.Error().Err(err).Str("coupon_code", *code).Msg("service: failed to release claimed coupon use")
	}
}

// deliveryCharge uses the client supplied charge when present, otherwise
// quotes shipping on the discounted order value.
func (s *service) deliveryCharge(ctx context.Context, req CheckoutRequest, orderValue decimal.Decimal, items []OrderItem) (decimal.Decimal, error) {
	if req.DeliveryCharge != nil {
		return req.DeliveryCharge.Round(2), nil
	}
	if s.quoter == nil {
		return decimal.Zero, fmt.Errorf("service: no shipping quoter configured")
	}

	units := 0
	for _, item := range items {
		units += item.Quantity
	}

	callCtx, cancel := s.callTimeout(ctx)
	defer cancel()

	quote, err := s.quoter.Quote(callCtx, shipping.QuoteRequest{
		Region:     req.Shipping.State,
		Pincode:    req.Shipping.Pincode,
		OrderValue: orderValue,
		Units:      units,
		IsCOD:      req.PaymentMethod == payment.ProviderCOD,
	})
	if err != nil {
		log.Error().Err(err).Str("region", req.Shipping.State).Msg("service: failed to quote shipping")
		return decimal.Zero, fmt.Errorf("service: failed to quote shipping: %w", err)
	}
	return quote.Total.Round(2), nil
}

// reserveStock takes stock for every line. Lines that could not be fully
// reserved are recorded as shortfall on the order. In strict mode, or when
// the ledger fails, everything reserved so far is released and the order is
// cancelled.
func (s *service) reserveStock(ctx context.Context, o *Order) error {
	shortfall := 0
	for i := range o.Items {
		item := &o.Items[i]
		res, err := s.inventory.Reserve(ctx, item.ProductID, item.VariantSize, item.Quantity)
		if err != nil {
			log.Error().Err(err).Stringer("order_id", o.ID).Stringer("product_id", item.ProductID).Msg("service: failed to reserve stock")
			s.abandon(ctx, o, o.Items[:i])
			return fmt.Errorf("service: failed to reserve stock: %w", err)
		}
		item.Shortfall = res.Shortfall
		shortfall += res.Shortfall
	}
	o.StockShortfall = shortfall

	if shortfall == 0 {
		return nil
	}

	if s.opts.RejectOnShortfall {
		s.abandon(ctx, o, o.Items)
		return fmt.Errorf("%w: %d unit(s) unavailable", ErrInsufficientStock, shortfall)
	}

	log.Warn().Stringer("order_id", o.ID).Int("shortfall", shortfall).Msg("service: order accepted with stock shortfall")
	if err := s.repo.RecordShortfall(ctx, o.ID, o.Items); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to record stock shortfall")
	}
	return nil
}

func (s *service) abandon(ctx context.Context, o *Order, reserved []OrderItem) {
	for _, item := range reserved {
		if item.Reserved() <= 0 {
			continue
		}
		if err := s.inventory.Release(ctx, item.ProductID, item.VariantSize, item.Reserved()); err != nil {
			log.Error().Err(err).Stringer("order_id", o.ID).Stringer("product_id", item.ProductID).Msg("service: failed to release stock of abandoned order")
		}
	}
	s.releaseCoupon(ctx, o.CouponCode)
	if err := s.repo.UpdateStatus(ctx, o.ID, StatusPending, StatusCancelled); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to cancel abandoned order")
		return
	}
	o.Status = StatusCancelled
	log.Warn().Stringer("order_id", o.ID).Msg("service: order cancelled during checkout")
}

func (s *service) createIntent(ctx context.Context, gateway payment.Gateway, o *Order) (payment.Intent, error) {
	callCtx, cancel := s.callTimeout(ctx)
	defer cancel()

	intent, err := gateway.CreatePaymentIntent(callCtx, payment.IntentRequest{
		AmountMinor: payment.MinorUnits(o.Total),
		Currency:    s.opts.Currency,
		Reference:   o.OrderNumber,
		Notes: map[string]string{
			"order_number":   o.OrderNumber,
			"customer_email": o.CustomerEmail,
		},
	})
	if err != nil {
		log.Error().Err(err).
			Stringer("order_id", o.ID).
			Stringer("provider", gateway.Provider()).
			Bool("transient", errors.Is(err, payment.ErrTransient)).
			Msg("service: failed to create payment intent, order left pending")
		return payment.Intent{}, fmt.Errorf("%w: %w", ErrPaymentGateway, err)
	}

	if err := s.repo.SetPaymentIntent(ctx, o.ID, intent.GatewayOrderID); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Str("gateway_order_id", intent.GatewayOrderID).Msg("service: failed to store payment intent")
		return payment.Intent{}, fmt.Errorf("service: failed to store payment intent: %w", err)
	}
	o.PaymentIntentID = &intent.GatewayOrderID

	log.Info().Stringer("order_id", o.ID).Stringer("provider", gateway.Provider()).Str("gateway_order_id", intent.GatewayOrderID).Msg("service: payment intent created")
	return intent, nil
}

func (s *service) sendConfirmation(o *Order) {
	if s.mailer == nil {
		return
	}

	lines := make([]notify.LineItem, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, notify.LineItem{Name: item.ProductName, Quantity: item.Quantity, Price: item.ProductPrice})
	}

	msg, err := notify.OrderConfirmation(o.CustomerEmail, notify.OrderConfirmationData{
		CustomerName:    o.CustomerName,
		OrderNumber:     o.OrderNumber,
		Items:           lines,
		Subtotal:        o.Subtotal,
		Discount:        o.DiscountAmount,
		DeliveryCharge:  o.DeliveryCharge,
		Total:           o.Total,
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   paymentLabel(o.PaymentProvider),
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to render order confirmation")
		return
	}
	s.mailer.Dispatch(msg)
}

func paymentLabel(p payment.Provider) string {
	switch p {
	case payment.ProviderCOD:
		return "Cash on Delivery"
	case payment.ProviderRazorpay:
		return "Online Payment (Razorpay)"
	case payment.ProviderStripe:
		return "Online Payment (Card)"
	}
	return string(p)
}
