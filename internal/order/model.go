package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/seujia/storefront/internal/payment"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) String() string {
	return string(s)
}

type OrderItem struct {
	ID           uuid.UUID       `json:"id"`
	OrderID      uuid.UUID       `json:"order_id"`
	ProductID    uuid.UUID       `json:"product_id"`
	ProductName  string          `json:"product_name"`
	VariantSize  *string         `json:"variant_size,omitempty"`
	Quantity     int             `json:"quantity"`
	ProductPrice decimal.Decimal `json:"product_price"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Shortfall    int             `json:"shortfall,omitempty"`
	Legacy       bool            `json:"legacy,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Reserved is the number of units actually taken from stock for this line.
func (i OrderItem) Reserved() int {
	return i.Quantity - i.Shortfall
}

type Shipment struct {
	CourierName       *string `json:"courier_name,omitempty"`
	AWBCode           *string `json:"awb_code,omitempty"`
	TrackingURL       *string `json:"tracking_url,omitempty"`
	ShipmentStatus    *string `json:"shipment_status,omitempty"`
	EstimatedDelivery *string `json:"estimated_delivery,omitempty"`
}

type Order struct {
	ID              uuid.UUID        `json:"id"`
	OrderNumber     string           `json:"order_number"`
	CustomerName    string           `json:"customer_name"`
	CustomerEmail   string           `json:"customer_email"`
	CustomerPhone   string           `json:"customer_phone,omitempty"`
	ShippingAddress string           `json:"shipping_address"`
	ShippingRegion  string           `json:"shipping_region"`
	ShippingPincode string           `json:"shipping_pincode"`
	Subtotal        decimal.Decimal  `json:"subtotal"`
	DiscountAmount  decimal.Decimal  `json:"discount_amount"`
	DeliveryCharge  decimal.Decimal  `json:"delivery_charge"`
	Total           decimal.Decimal  `json:"total"`
	CouponCode      *string          `json:"coupon_code,omitempty"`
	PaymentProvider payment.Provider `json:"payment_method"`
	PaymentIntentID *string          `json:"payment_intent_id,omitempty"`
	PaymentStatus   PaymentStatus    `json:"payment_status"`
	Status          Status           `json:"order_status"`
	StockShortfall  int              `json:"stock_shortfall"`
	Shipment
	Items     []OrderItem `json:"items"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type CartLine struct {
	ProductID   uuid.UUID `json:"product_id" validate:"required"`
	VariantSize *string   `json:"variant_size,omitempty"`
	Quantity    int       `json:"quantity" validate:"required,gt=0"`
}

type ShippingDetails struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address"`
	Pincode  string `json:"pincode"`
	State    string `json:"state"`
	District string `json:"district"`
}

// FormattedAddress flattens the address the way it is stored on the order.
func (s ShippingDetails) FormattedAddress() string {
	return s.Address + ", " + s.District + ", " + s.State + " - " + s.Pincode
}

type CheckoutRequest struct {
	Items          []CartLine       `json:"items"`
	Shipping       ShippingDetails  `json:"shipping_info"`
	CouponCode     *string          `json:"coupon_code,omitempty"`
	PaymentMethod  payment.Provider `json:"payment_method"`
	DeliveryCharge *decimal.Decimal `json:"delivery_charge,omitempty"`
}

type CheckoutResult struct {
	OrderID        uuid.UUID        `json:"order_id"`
	OrderNumber    string           `json:"order_number"`
	PaymentMethod  payment.Provider `json:"payment_method"`
	GatewayOrderID string           `json:"gateway_order_id,omitempty"`
	ClientSecret   string           `json:"client_secret,omitempty"`
	Amount         int64            `json:"amount,omitempty"`
	Currency       string           `json:"currency"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	Discount       decimal.Decimal  `json:"discount"`
	DeliveryCharge decimal.Decimal  `json:"delivery_charge"`
	Total          decimal.Decimal  `json:"total"`
	StockShortfall int              `json:"stock_shortfall,omitempty"`
	CouponMessage  string           `json:"coupon_message,omitempty"`
	Message        string           `json:"message"`
}

type TrackingUpdate struct {
	CourierName       string  `json:"courier_name"`
	AWBCode           string  `json:"awb_code"`
	TrackingURL       *string `json:"tracking_url,omitempty"`
	ShipmentStatus    *string `json:"shipment_status,omitempty"`
	EstimatedDelivery *string `json:"estimated_delivery,omitempty"`
}

type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}
