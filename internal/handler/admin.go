package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/seujia/storefront/internal/coupon"
	"github.com/seujia/storefront/internal/order"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type LoginService interface {
	Login(ctx context.Context, email, password string) (string, time.Time, error)
}

// AdminHandler serves the back office: order fulfilment and coupon
// management. Everything except login sits behind the admin session.
type AdminHandler struct {
	orders   order.Service
	coupons  coupon.Service
	auth     LoginService
	validate *validator.Validate
}

func NewAdminHandler(orders order.Service, coupons coupon.Service, auth LoginService) *AdminHandler {
	return &AdminHandler{
		orders:   orders,
		coupons:  coupons,
		auth:     auth,
		validate: newValidator(),
	}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type TrackingRequest struct {
	CourierName       string  `json:"courier_name" validate:"required,max=100"`
	AWBCode           string  `json:"awb_code" validate:"required,max=64"`
	TrackingURL       *string `json:"tracking_url,omitempty" validate:"omitempty,url"`
	ShipmentStatus    *string `json:"shipment_status,omitempty" validate:"omitempty,max=100"`
	EstimatedDelivery *string `json:"estimated_delivery,omitempty" validate:"omitempty,max=100"`
}

type StatusRequest struct {
	Status order.Status `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled"`
}

type CouponRequest struct {
	Code          string              `json:"code" validate:"required,max=64"`
	DiscountType  coupon.DiscountType `json:"discount_type" validate:"required,oneof=percentage fixed"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	MinOrderValue decimal.Decimal     `json:"min_order_value"`
	MaxUses       *int                `json:"max_uses,omitempty" validate:"omitempty,gte=0"`
	IsActive      *bool               `json:"is_active,omitempty"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
}

func (req CouponRequest) toCoupon() *coupon.Coupon {
	c := &coupon.Coupon{
		Code:          req.Code,
		DiscountType:  req.DiscountType,
		DiscountValue: req.DiscountValue,
		MinOrderValue: req.MinOrderValue,
		MaxUses:       req.MaxUses,
		IsActive:      true,
		ExpiresAt:     req.ExpiresAt,
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
	return c
}

// RegisterRoutes mounts login on router and the remaining routes behind
// requireAdmin.
func (h *AdminHandler) RegisterRoutes(router chi.Router, requireAdmin func(http.Handler) http.Handler) {
	router.Route("/admin", func(r chi.Router) {
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)

			r.Get("/orders", h.handleListOrders)
			r.Get("/orders/{id}", h.handleGetOrder)
			r.Post("/orders/{id}/tracking", h.handleAttachTracking)
			r.Post("/orders/{id}/status", h.handleUpdateStatus)
			r.Delete("/orders/{id}", h.handleDeleteOrder)

			r.Get("/coupons", h.handleListCoupons)
			r.Post("/coupons", h.handleCreateCoupon)
			r.Put("/coupons/{id}", h.handleUpdateCoupon)
			r.Delete("/coupons/{id}", h.handleDeleteCoupon)
		})
	})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	id, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return id, true
}

func (h *AdminHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	token, expiresAt, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondWithServiceError(w, err, "Failed to log in")
		return
	}
	respondWithJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *AdminHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := order.ListFilter{Limit: defaultPageSize}

	if s := query.Get("status"); s != "" {
		status := order.Status(s)
		filter.Status = &status
	}
	if s := query.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		filter.Limit = min(limit, maxPageSize)
	}
	if s := query.Get("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil || offset < 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid offset parameter")
			return
		}
		filter.Offset = offset
	}

	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders via service")
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *AdminHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get order by id via service")
		respondWithServiceError(w, err, "Failed to get order")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) handleAttachTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req TrackingRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	o, err := h.orders.AttachTracking(r.Context(), id, order.TrackingUpdate{
		CourierName:       req.CourierName,
		AWBCode:           req.AWBCode,
		TrackingURL:       req.TrackingURL,
		ShipmentStatus:    req.ShipmentStatus,
		EstimatedDelivery: req.EstimatedDelivery,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to attach tracking via service")
		respondWithServiceError(w, err, "Failed to update tracking")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update order status via service")
		respondWithServiceError(w, err, "Failed to update order status")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.orders.DeleteOrder(r.Context(), id); err != nil {
		log.Error().Err(err).Msg("Failed to delete order via service")
		respondWithServiceError(w, err, "Failed to delete order")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) handleListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list coupons via service")
		respondWithServiceError(w, err, "Failed to list coupons")
		return
	}
	if coupons == nil {
		coupons = []coupon.Coupon{}
	}
	respondWithJSON(w, http.StatusOK, coupons)
}

func (h *AdminHandler) handleCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req CouponRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	created, err := h.coupons.Create(r.Context(), req.toCoupon())
	if err != nil {
		log.Error().Err(err).Msg("Failed to create coupon via service")
		respondWithServiceError(w, err, "Failed to create coupon")
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

func (h *AdminHandler) handleUpdateCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req CouponRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	c := req.toCoupon()
	c.ID = id
	updated, err := h.coupons.Update(r.Context(), c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update coupon via service")
		respondWithServiceError(w, err, "Failed to update coupon")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *AdminHandler) handleDeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.coupons.Delete(r.Context(), id); err != nil {
		log.Error().Err(err).Msg("Failed to delete coupon via service")
		respondWithServiceError(w, err, "Failed to delete coupon")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
