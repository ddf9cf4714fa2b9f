package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/seujia/storefront/internal/cart"
)

type CartHandler struct {
	service  cart.Service
	validate *validator.Validate
}

func NewCartHandler(service cart.Service) *CartHandler {
	return &CartHandler{service: service, validate: newValidator()}
}

type ReplaceCartRequest struct {
	Items []cart.Item `json:"items" validate:"max=50,dive"`
}

func (h *CartHandler) RegisterRoutes(router chi.Router) {
	router.Route("/cart/{session}", func(r chi.Router) {
		r.Get("/", h.handleGetCart)
		r.Put("/", h.handleReplaceCart)
		r.Delete("/", h.handleClearCart)
		r.Post("/items", h.handleAddItem)
	})
}

func (h *CartHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	c, err := h.service.Get(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get cart via service")
		respondWithServiceError(w, err, "Failed to get cart")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CartHandler) handleReplaceCart(w http.ResponseWriter, r *http.Request) {
	var req ReplaceCartRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	c, err := h.service.Replace(r.Context(), chi.URLParam(r, "session"), req.Items)
	if err != nil {
		log.Error().Err(err).Msg("Failed to replace cart via service")
		respondWithServiceError(w, err, "Failed to update cart")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var item cart.Item
	if !decodeAndValidate(w, r, h.validate, &item) {
		return
	}

	c, err := h.service.AddItem(r.Context(), chi.URLParam(r, "session"), item)
	if err != nil {
		log.Error().Err(err).Msg("Failed to add cart item via service")
		respondWithServiceError(w, err, "Failed to update cart")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CartHandler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Clear(r.Context(), chi.URLParam(r, "session")); err != nil {
		log.Error().Err(err).Msg("Failed to clear cart via service")
		respondWithServiceError(w, err, "Failed to clear cart")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
