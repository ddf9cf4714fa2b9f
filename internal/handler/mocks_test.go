package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seujia/storefront/internal/order"
	"github.com/seujia/storefront/internal/payment"
	"github.com/seujia/storefront/internal/shipping"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Checkout(ctx context.Context, req order.CheckoutRequest) (*order.CheckoutResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.CheckoutResult), args.Error(1)
}

func (m *MockOrderService) GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetCustomerOrder(ctx context.Context, number, email string) (*order.Order, error) {
	args := m.Called(ctx, number, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) ListCustomerOrders(ctx context.Context, email string) ([]order.Order, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) Track(ctx context.Context, awb, orderNumber string) (*shipping.Tracking, error) {
	args := m.Called(ctx, awb, orderNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.Tracking), args.Error(1)
}

func (m *MockOrderService) AttachTracking(ctx context.Context, id uuid.UUID, update order.TrackingUpdate) (*order.Order, error) {
	args := m.Called(ctx, id, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) MarkDelivered(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) UpdateStatus(ctx context.Context, id uuid.UUID, status order.Status) (*order.Order, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) HandleWebhook(ctx context.Context, provider payment.Provider, payload []byte, header http.Header) (payment.Event, error) {
	args := m.Called(ctx, provider, payload, header)
	return args.Get(0).(payment.Event), args.Error(1)
}

func (m *MockOrderService) HandlePaymentEvent(ctx context.Context, ev payment.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockOrderService) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockQuoter struct {
	mock.Mock
}

func (m *MockQuoter) Quote(ctx context.Context, req shipping.QuoteRequest) (shipping.Quote, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(shipping.Quote), args.Error(1)
}

func doRequest(t *testing.T, router chi.Router, method, target string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body.Error
}
