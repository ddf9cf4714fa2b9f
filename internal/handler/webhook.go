package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/seujia/storefront/internal/order"
	"github.com/seujia/storefront/internal/payment"
)

// WebhookHandler receives payment provider callbacks. The raw body is kept
// intact because signatures are computed over the exact bytes.
type WebhookHandler struct {
	orders order.Service
}

func NewWebhookHandler(orders order.Service) *WebhookHandler {
	return &WebhookHandler{orders: orders}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/webhooks/razorpay", h.handleProvider(payment.ProviderRazorpay))
	router.Post("/webhooks/stripe", h.handleProvider(payment.ProviderStripe))
}

func (h *WebhookHandler) handleProvider(provider payment.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			log.Error().Err(err).Stringer("provider", provider).Msg("Failed to read webhook body")
			respondWithError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}

		ev, err := h.orders.HandleWebhook(r.Context(), provider, payload, r.Header)
		if err != nil {
			log.Error().Err(err).Stringer("provider", provider).Msg("Failed to handle webhook via service")
			respondWithServiceError(w, err, "Failed to process webhook")
			return
		}

		log.Info().Stringer("provider", provider).Str("event_type", ev.RawType).Msg("Webhook processed")
		respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}
