package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seujia/storefront/internal/catalog"
	"github.com/seujia/storefront/internal/coupon"
	"github.com/seujia/storefront/internal/handler"
	"github.com/seujia/storefront/internal/memstore"
	"github.com/seujia/storefront/internal/order"
	"github.com/seujia/storefront/internal/payment"
	"github.com/seujia/storefront/internal/shipping"
)

type storefrontFixture struct {
	router  chi.Router
	orders  *MockOrderService
	quoter  *MockQuoter
	store   *memstore.Store
	coupons coupon.Service
}

func newStorefront(t *testing.T) *storefrontFixture {
	t.Helper()

	store := memstore.New()
	store.AddProduct(catalog.Product{
		Slug:     "wild-forest-honey",
		Name:     "Wild Forest Honey",
		Price:    decimal.NewFromInt(349),
		IsActive: true,
		Variants: []catalog.Variant{{Size: "250g", Price: decimal.NewFromInt(189), Stock: 4}},
	})
	store.AddProduct(catalog.Product{
		Slug:  "retired-honey",
		Name:  "Retired Honey",
		Price: decimal.NewFromInt(99),
	})

	f := &storefrontFixture{
		orders:  new(MockOrderService),
		quoter:  new(MockQuoter),
		store:   store,
		coupons: coupon.NewService(store.Coupons()),
	}
	h := handler.NewStorefrontHandler(f.orders, store.Products(), f.coupons, f.quoter)
	router := chi.NewRouter()
	h.RegisterRoutes(router)
	f.router = router
	return f
}

func TestStorefrontHandler_Products(t *testing.T) {
	f := newStorefront(t)

	rr := doRequest(t, f.router, http.MethodGet, "/products", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var products []catalog.Product
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&products))
	require.Len(t, products, 1)
	assert.Equal(t, "wild-forest-honey", products[0].Slug)

	rr = doRequest(t, f.router, http.MethodGet, "/products/wild-forest-honey", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	for _, slug := range []string{"retired-honey", "no-such-honey"} {
		rr = doRequest(t, f.router, http.MethodGet, "/products/"+slug, nil, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, slug)
		assert.Equal(t, "Product not found", decodeError(t, rr), slug)
	}
}

func TestStorefrontHandler_QuoteShipping(t *testing.T) {
	f := newStorefront(t)
	want := shipping.Quote{
		BaseCharge: decimal.NewFromInt(40),
		CODCharge:  decimal.NewFromInt(30),
		Total:      decimal.NewFromInt(70),
	}
	f.quoter.On("Quote", mock.Anything, mock.MatchedBy(func(req shipping.QuoteRequest) bool {
		return req.Region == "Assam" && req.Pincode == "781001" && req.Units == 2 &&
			req.IsCOD && req.OrderValue.Equal(decimal.NewFromInt(378))
	})).Return(want, nil).Once()

	rr := doRequest(t, f.router, http.MethodPost, "/shipping/quote",
		`{"state":"Assam","pincode":"781001","order_value":"378","units":2,"payment_method":"cod"}`, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var got shipping.Quote
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.True(t, got.Total.Equal(want.Total))
	f.quoter.AssertExpectations(t)
}

func TestStorefrontHandler_QuoteShipping_Errors(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		quoteErr    error
		wantCode    int
		wantError   string
		wantDetails map[string]string
	}{
		{
			name:        "missing state",
			body:        `{"order_value":"100","units":1}`,
			wantCode:    http.StatusBadRequest,
			wantError:   "Validation failed",
			wantDetails: map[string]string{"state": "This field is required"},
		},
		{
			name:        "unknown payment method",
			body:        `{"state":"Assam","order_value":"100","payment_method":"cash"}`,
			wantCode:    http.StatusBadRequest,
			wantError:   "Validation failed",
			wantDetails: map[string]string{"payment_method": "Must be one of: cod razorpay stripe"},
		},
		{
			name:      "negative value",
			body:      `{"state":"Assam","order_value":"-1"}`,
			wantCode:  http.StatusBadRequest,
			wantError: "Order value cannot be negative",
		},
		{
			name:      "unknown field",
			body:      `{"state":"Assam","weight":3}`,
			wantCode:  http.StatusBadRequest,
			wantError: "Invalid request payload",
		},
		{
			name:      "no carrier",
			body:      `{"state":"Assam","pincode":"781001","order_value":"100","units":1}`,
			quoteErr:  shipping.ErrNoCarrier,
			wantCode:  http.StatusBadGateway,
			wantError: "Failed to calculate shipping",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStorefront(t)
			if tt.quoteErr != nil {
				f.quoter.On("Quote", mock.Anything, mock.Anything).Return(shipping.Quote{}, tt.quoteErr).Once()
			}

			rr := doRequest(t, f.router, http.MethodPost, "/shipping/quote", tt.body, nil)

			assert.Equal(t, tt.wantCode, rr.Code)
			var body handler.ValidationErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, tt.wantError, body.Error)
			if tt.wantDetails != nil {
				if diff := cmp.Diff(tt.wantDetails, body.Details); diff != "" {
					t.Errorf("details mismatch (-want +got):\n%s", diff)
				}
			}
			f.quoter.AssertExpectations(t)
		})
	}
}

func TestStorefrontHandler_ApplyCoupon(t *testing.T) {
	f := newStorefront(t)
	_, err := f.coupons.Create(context.Background(), &coupon.Coupon{
		Code:          "save10",
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		MinOrderValue: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	tests := []struct {
		name         string
		body         string
		wantValid    bool
		wantDiscount string
		wantTotal    string
		wantMessage  string
	}{
		{name: "applied", body: `{"coupon_code":"SAVE10","subtotal":"378"}`, wantValid: true, wantDiscount: "37.80", wantTotal: "340.20", wantMessage: "Coupon applied successfully"},
		{name: "case insensitive", body: `{"coupon_code":" save10 ","subtotal":"500"}`, wantValid: true, wantDiscount: "50.00", wantTotal: "450.00", wantMessage: "Coupon applied successfully"},
		{name: "unknown code", body: `{"coupon_code":"NOPE","subtotal":"500"}`, wantValid: false, wantDiscount: "0.00", wantTotal: "500.00", wantMessage: "Invalid coupon code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, f.router, http.MethodPost, "/coupons/apply", tt.body, nil)

			require.Equal(t, http.StatusOK, rr.Code)
			var got coupon.Validation
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
			assert.Equal(t, tt.wantValid, got.Valid)
			assert.Equal(t, tt.wantDiscount, got.Discount.StringFixed(2))
			assert.Equal(t, tt.wantTotal, got.NewTotal.StringFixed(2))
			assert.Equal(t, tt.wantMessage, got.Message)
		})
	}

	rr := doRequest(t, f.router, http.MethodPost, "/coupons/apply", `{"subtotal":"100"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStorefrontHandler_Checkout(t *testing.T) {
	body := `{
		"items": [{"product_id": "5f1d7c52-3c1b-4d8e-9a44-0c1f6b1f2a01", "variant_size": "250g", "quantity": 2}],
		"shipping_info": {"name": "Asha Das", "email": "asha@example.com", "address": "12 MG Road", "pincode": "781001", "state": "Assam", "district": "Kamrup"},
		"coupon_code": "SAVE10",
		"payment_method": "razorpay"
	}`
	result := &order.CheckoutResult{
		OrderID:        uuid.Must(uuid.NewV4()),
		OrderNumber:    "SJ-LQ2X9K-AB12",
		PaymentMethod:  payment.ProviderRazorpay,
		GatewayOrderID: "order_abc",
		Amount:         41800,
		Currency:       "INR",
		Total:          decimal.NewFromInt(418),
		Message:        "Order created",
	}

	f := newStorefront(t)
	f.orders.On("Checkout", mock.Anything, mock.MatchedBy(func(req order.CheckoutRequest) bool {
		return len(req.Items) == 1 && req.Items[0].Quantity == 2 && *req.Items[0].VariantSize == "250g" &&
			req.Shipping.Email == "asha@example.com" && *req.CouponCode == "SAVE10" &&
			req.PaymentMethod == payment.ProviderRazorpay && req.DeliveryCharge == nil
	})).Return(result, nil).Once()

	rr := doRequest(t, f.router, http.MethodPost, "/checkout", body, nil)

	require.Equal(t, http.StatusCreated, rr.Code)
	var got order.CheckoutResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, result.OrderNumber, got.OrderNumber)
	assert.Equal(t, "order_abc", got.GatewayOrderID)
	assert.Equal(t, int64(41800), got.Amount)
	f.orders.AssertExpectations(t)
}

func TestStorefrontHandler_Checkout_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		err       error
		wantCode  int
		wantError string
	}{
		{name: "customer validation", err: &order.ValidationError{Message: "Cart is empty"}, wantCode: http.StatusBadRequest, wantError: "Cart is empty"},
		{name: "out of stock", err: fmt.Errorf("%w: Wild Forest Honey", order.ErrInsufficientStock), wantCode: http.StatusConflict, wantError: "Insufficient stock: Wild Forest Honey"},
		{name: "gateway down", err: fmt.Errorf("%w: timeout", order.ErrPaymentGateway), wantCode: http.StatusBadGateway, wantError: "Payment provider is unavailable, please try again"},
		{name: "unexpected", err: errors.New("connection refused"), wantCode: http.StatusInternalServerError, wantError: "Failed to create order"},
		{name: "malformed body", body: `{"items": "lots"}`, wantCode: http.StatusBadRequest, wantError: "Invalid request payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStorefront(t)
			body := tt.body
			if body == "" {
				body = `{"items":[],"payment_method":"cod"}`
				f.orders.On("Checkout", mock.Anything, mock.Anything).Return(nil, tt.err).Once()
			}

			rr := doRequest(t, f.router, http.MethodPost, "/checkout", body, nil)

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, tt.wantError, decodeError(t, rr))
			f.orders.AssertExpectations(t)
		})
	}
}

func TestStorefrontHandler_CustomerOrders(t *testing.T) {
	f := newStorefront(t)
	placed := order.Order{ID: uuid.Must(uuid.NewV4()), OrderNumber: "SJ-1", CustomerEmail: "asha@example.com", Status: order.StatusPending}

	f.orders.On("ListCustomerOrders", mock.Anything, "asha@example.com").Return([]order.Order{placed}, nil).Once()
	f.orders.On("ListCustomerOrders", mock.Anything, "nobody@example.com").Return(nil, nil).Once()
	f.orders.On("GetCustomerOrder", mock.Anything, "SJ-1", "asha@example.com").Return(&placed, nil).Once()
	f.orders.On("GetCustomerOrder", mock.Anything, "SJ-1", "eve@example.com").Return(nil, order.ErrOrderNotFound).Once()

	rr := doRequest(t, f.router, http.MethodGet, "/orders?email=asha@example.com", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []order.Order
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "SJ-1", list[0].OrderNumber)

	rr = doRequest(t, f.router, http.MethodGet, "/orders?email=nobody@example.com", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = doRequest(t, f.router, http.MethodGet, "/orders/SJ-1?email=asha@example.com", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, f.router, http.MethodGet, "/orders/SJ-1?email=eve@example.com", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Order not found", decodeError(t, rr))

	f.orders.AssertExpectations(t)
}

func TestStorefrontHandler_TrackOrder(t *testing.T) {
	f := newStorefront(t)
	tracking := &shipping.Tracking{AWB: "AWB123", Courier: "Delhivery", CurrentStatus: "In Transit"}
	f.orders.On("Track", mock.Anything, "AWB123", "").Return(tracking, nil).Once()
	f.orders.On("Track", mock.Anything, "", "SJ-2").Return(nil, order.ErrTrackingUnavailable).Once()

	rr := doRequest(t, f.router, http.MethodPost, "/track-order", `{"awb_code":"AWB123"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got shipping.Tracking
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "In Transit", got.CurrentStatus)

	rr = doRequest(t, f.router, http.MethodPost, "/track-order", `{"order_number":"SJ-2"}`, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Tracking information is not available for this order", decodeError(t, rr))

	f.orders.AssertExpectations(t)
}

func TestWebhookHandler(t *testing.T) {
	payload := `{"event":"payment.captured"}`
	tests := []struct {
		name     string
		path     string
		provider payment.Provider
		err      error
		wantCode int
		wantBody string
	}{
		{name: "razorpay accepted", path: "/webhooks/razorpay", provider: payment.ProviderRazorpay, wantCode: http.StatusOK, wantBody: `{"received":true}`},
		{name: "stripe accepted", path: "/webhooks/stripe", provider: payment.ProviderStripe, wantCode: http.StatusOK, wantBody: `{"received":true}`},
		{name: "bad signature", path: "/webhooks/razorpay", provider: payment.ProviderRazorpay, err: payment.ErrInvalidSignature, wantCode: http.StatusBadRequest, wantBody: `{"error":"Invalid webhook signature"}`},
		{name: "malformed", path: "/webhooks/stripe", provider: payment.ProviderStripe, err: fmt.Errorf("%w: unexpected end of JSON input", payment.ErrMalformedEvent), wantCode: http.StatusBadRequest, wantBody: `{"error":"Malformed webhook event: unexpected end of JSON input"}`},
		{name: "storage failure", path: "/webhooks/razorpay", provider: payment.ProviderRazorpay, err: errors.New("deadlock detected"), wantCode: http.StatusInternalServerError, wantBody: `{"error":"Failed to process webhook"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := new(MockOrderService)
			orders.On("HandleWebhook", mock.Anything, tt.provider, []byte(payload), mock.MatchedBy(func(h http.Header) bool {
				return h.Get("X-Signature") == "sig"
			})).Return(payment.Event{Kind: payment.EventPaymentSucceeded, RawType: "payment.captured"}, tt.err).Once()

			router := chi.NewRouter()
			handler.NewWebhookHandler(orders).RegisterRoutes(router)

			rr := doRequest(t, router, http.MethodPost, tt.path, payload, http.Header{"X-Signature": {"sig"}})

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.JSONEq(t, tt.wantBody, rr.Body.String())
			orders.AssertExpectations(t)
		})
	}
}
