package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/seujia/storefront/internal/catalog"
	"github.com/seujia/storefront/internal/coupon"
	"github.com/seujia/storefront/internal/order"
	"github.com/seujia/storefront/internal/payment"
	"github.com/seujia/storefront/internal/shipping"
)

type CouponValidator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (coupon.Validation, error)
}

// StorefrontHandler serves the public catalogue, pricing and checkout API.
type StorefrontHandler struct {
	orders   order.Service
	products catalog.Repository
	coupons  CouponValidator
	quoter   shipping.Quoter
	validate *validator.Validate
}

func NewStorefrontHandler(orders order.Service, products catalog.Repository, coupons CouponValidator, quoter shipping.Quoter) *StorefrontHandler {
	return &StorefrontHandler{
		orders:   orders,
		products: products,
		coupons:  coupons,
		quoter:   quoter,
		validate: newValidator(),
	}
}

type QuoteRequest struct {
	State         string           `json:"state" validate:"required"`
	Pincode       string           `json:"pincode" validate:"omitempty,len=6,numeric"`
	OrderValue    decimal.Decimal  `json:"order_value"`
	Units         int              `json:"units" validate:"gte=0"`
	PaymentMethod payment.Provider `json:"payment_method" validate:"omitempty,oneof=cod razorpay stripe"`
}

type ApplyCouponRequest struct {
	CouponCode string          `json:"coupon_code" validate:"required,max=64"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

type TrackOrderRequest struct {
	OrderNumber string `json:"order_number" validate:"omitempty,max=64"`
	AWBCode     string `json:"awb_code" validate:"omitempty,max=64"`
}

// RegisterRoutes mounts the public routes. checkout wraps the checkout
// endpoint only.
func (h *StorefrontHandler) RegisterRoutes(router chi.Router, checkout ...func(http.Handler) http.Handler) {
	router.Get("/products", h.handleListProducts)
	router.Get("/products/{slug}", h.handleGetProduct)
	router.Post("/shipping/quote", h.handleQuoteShipping)
	router.Post("/coupons/apply", h.handleApplyCoupon)
	router.With(checkout...).Post("/checkout", h.handleCheckout)
	router.Get("/orders", h.handleListCustomerOrders)
	router.Get("/orders/{number}", h.handleGetCustomerOrder)
	router.Post("/track-order", h.handleTrackOrder)
}

func (h *StorefrontHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListActive(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list products via repository")
		respondWithServiceError(w, err, "Failed to list products")
		return
	}
	if products == nil {
		products = []catalog.Product{}
	}
	respondWithJSON(w, http.StatusOK, products)
}

func (h *StorefrontHandler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	product, err := h.products.GetBySlug(r.Context(), slug)
	if err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("Failed to get product via repository")
		respondWithServiceError(w, err, "Failed to get product")
		return
	}
	if !product.IsActive {
		respondWithError(w, http.StatusNotFound, "Product not found")
		return
	}
	respondWithJSON(w, http.StatusOK, product)
}

func (h *StorefrontHandler) handleQuoteShipping(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	if req.OrderValue.IsNegative() {
		respondWithError(w, http.StatusBadRequest, "Order value cannot be negative")
		return
	}

	quote, err := h.quoter.Quote(r.Context(), shipping.QuoteRequest{
		Region:     req.State,
		Pincode:    req.Pincode,
		OrderValue: req.OrderValue,
		Units:      req.Units,
		IsCOD:      req.PaymentMethod == payment.ProviderCOD,
	})
	if err != nil {
		log.Error().Err(err).Str("state", req.State).Msg("Failed to quote shipping via quoter")
		respondWithServiceError(w, err, "Failed to calculate shipping")
		return
	}
	respondWithJSON(w, http.StatusOK, quote)
}

func (h *StorefrontHandler) handleApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req ApplyCouponRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	if req.Subtotal.IsNegative() {
		respondWithError(w, http.StatusBadRequest, "Subtotal cannot be negative")
		return
	}

	result, err := h.coupons.Validate(r.Context(), req.CouponCode, req.Subtotal)
	if err != nil {
		log.Error().Err(err).Msg("Failed to validate coupon via service")
		respondWithServiceError(w, err, "Failed to validate coupon")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *StorefrontHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req order.CheckoutRequest
	// Field rules are enforced by the order service so customers get its
	// messages rather than validator tags.
	if !decodeAndValidate(w, r, nil, &req) {
		return
	}

	result, err := h.orders.Checkout(r.Context(), req)
	if err != nil {
		if errors.Is(err, order.ErrValidation) {
			log.Warn().Err(err).Msg("Checkout rejected by service")
		} else {
			log.Error().Err(err).Msg("Failed to checkout via service")
		}
		message := "Failed to create order"
		if errors.Is(err, order.ErrPaymentGateway) {
			message = "Payment provider is unavailable, please try again"
		}
		respondWithServiceError(w, err, message)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

func (h *StorefrontHandler) handleListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	orders, err := h.orders.ListCustomerOrders(r.Context(), email)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list customer orders via service")
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *StorefrontHandler) handleGetCustomerOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	o, err := h.orders.GetCustomerOrder(r.Context(), number, r.URL.Query().Get("email"))
	if err != nil {
		log.Warn().Err(err).Str("order_number", number).Msg("Failed to get customer order via service")
		respondWithServiceError(w, err, "Failed to get order")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *StorefrontHandler) handleTrackOrder(w http.ResponseWriter, r *http.Request) {
	var req TrackOrderRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	tracking, err := h.orders.Track(r.Context(), req.AWBCode, req.OrderNumber)
	if err != nil {
		log.Error().Err(err).Str("awb_code", req.AWBCode).Str("order_number", req.OrderNumber).Msg("Failed to track order via service")
		respondWithServiceError(w, err, "Failed to fetch tracking information")
		return
	}
	respondWithJSON(w, http.StatusOK, tracking)
}
