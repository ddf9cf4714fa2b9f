package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/seujia/storefront/internal/catalog"
	"github.com/seujia/storefront/internal/coupon"
	"github.com/seujia/storefront/internal/inventory"
	"github.com/seujia/storefront/internal/notify"
	"github.com/seujia/storefront/internal/payment"
	"github.com/seujia/storefront/internal/shipping"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrPaymentGateway          = errors.New("payment gateway error")
	ErrTrackingUnavailable     = errors.New("tracking information is not available for this order")
)

// ValidationError carries a message meant to be shown to the customer.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

type ProductReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*catalog.Product, error)
}

type StockLedger interface {
	Reserve(ctx context.Context, productID uuid.UUID, variantSize *string, qty int) (inventory.Reservation, error)
	Release(ctx context.Context, productID uuid.UUID, variantSize *string, qty int) error
}

type CouponService interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (coupon.Validation, error)
	IncrementUses(ctx context.Context, code string) error
	DecrementUses(ctx context.Context, code string) error
}

// Mailer hands messages off for delivery without blocking.
type Mailer interface {
	Dispatch(msg notify.Message)
}

type Service interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)

	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	GetCustomerOrder(ctx context.Context, number, email string) (*Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
	ListCustomerOrders(ctx context.Context, email string) ([]Order, error)
	Track(ctx context.Context, awb, orderNumber string) (*shipping.Tracking, error)

	AttachTracking(ctx context.Context, id uuid.UUID, update TrackingUpdate) (*Order, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (*Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Order, error)
	HandleWebhook(ctx context.Context, provider payment.Provider, payload []byte, header http.Header) (payment.Event, error)
	HandlePaymentEvent(ctx context.Context, ev payment.Event) error
	DeleteOrder(ctx context.Context, id uuid.UUID) error
}

type Options struct {
	Currency          string
	RejectOnShortfall bool
	ExternalTimeout   time.Duration
	// BaseURL is the public storefront address used in customer e-mails.
	BaseURL string
}

type Deps struct {
	Repo      Repository
	Products  ProductReader
	Inventory StockLedger
	Coupons   CouponService
	Quoter    shipping.Quoter
	Gateways  []payment.Gateway
	Tracker   shipping.Tracker
	Mailer    Mailer
	Now       func() time.Time
}

type service struct {
	repo      Repository
	products  ProductReader
	inventory StockLedger
	coupons   CouponService
	quoter    shipping.Quoter
	gateways  map[payment.Provider]payment.Gateway
	tracker   shipping.Tracker
	mailer    Mailer
	now       func() time.Time
	opts      Options
}

func NewService(deps Deps, opts Options) Service {
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.ExternalTimeout <= 0 {
		opts.ExternalTimeout = 10 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	gateways := make(map[payment.Provider]payment.Gateway, len(deps.Gateways))
	for _, gw := range deps.Gateways {
		gateways[gw.Provider()] = gw
	}

	return &service{
		repo:      deps.Repo,
		products:  deps.Products,
		inventory: deps.Inventory,
		coupons:   deps.Coupons,
		quoter:    deps.Quoter,
		gateways:  gateways,
		tracker:   deps.Tracker,
		mailer:    deps.Mailer,
		now:       now,
		opts:      opts,
	}
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return o, nil
}

// GetCustomerOrder returns the order only when email matches the one used at
// checkout, so order numbers alone do not expose customer data.
func (s *service) GetCustomerOrder(ctx context.Context, number, email string) (*Order, error) {
	if strings.TrimSpace(number) == "" || strings.TrimSpace(email) == "" {
		return nil, invalid("Order number and email are required")
	}

	o, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by number: %w", err)
	}
	if !strings.EqualFold(o.CustomerEmail, strings.TrimSpace(email)) {
		log.Warn().Str("order_number", o.OrderNumber).Msg("service: order lookup with mismatched email")
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, invalid("Unknown order status: %s", *filter.Status)
	}
	orders, err := s.repo.List(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders")
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *service) ListCustomerOrders(ctx context.Context, email string) ([]Order, error) {
	if strings.TrimSpace(email) == "" {
		return nil, invalid("Email is required")
	}
	orders, err := s.repo.ListByEmail(ctx, email)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to fetch customer orders")
		return nil, fmt.Errorf("service: failed to fetch customer orders: %w", err)
	}
	return orders, nil
}

// Track resolves live shipment progress by AWB code, or by order number when
// no AWB is given.
func (s *service) Track(ctx context.Context, awb, orderNumber string) (*shipping.Tracking, error) {
	awb = strings.TrimSpace(awb)
	orderNumber = strings.TrimSpace(orderNumber)
	if awb == "" && orderNumber == "" {
		return nil, invalid("AWB code or order number is required")
	}

	var courier string
	if awb == "" {
		o, err := s.repo.GetByNumber(ctx, orderNumber)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				return nil, ErrOrderNotFound
			}
			return nil, fmt.Errorf("service: failed to fetch order by number: %w", err)
		}
		if o.AWBCode == nil || *o.AWBCode == "" {
			return nil, ErrTrackingUnavailable
		}
		awb = *o.AWBCode
		if o.CourierName != nil {
			courier = *o.CourierName
		}
	}

	if s.tracker == nil {
		return nil, ErrTrackingUnavailable
	}

	callCtx, cancel := s.callTimeout(ctx)
	defer cancel()

	t, err := s.tracker.TrackByAWB(callCtx, awb)
	if err != nil {
		if errors.Is(err, shipping.ErrShipmentNotFound) {
			return nil, ErrTrackingUnavailable
		}
		log.Error().Err(err).Str("awb_code", awb).Msg("service: failed to fetch shipment tracking")
		return nil, fmt.Errorf("service: failed to track shipment: %w", err)
	}
	if t.Courier == "" {
		t.Courier = courier
	}
	return &t, nil
}

func (s *service) callTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.ExternalTimeout)
}
