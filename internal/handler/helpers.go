package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/seujia/storefront/internal/cart"
	"github.com/seujia/storefront/internal/catalog"
	"github.com/seujia/storefront/internal/coupon"
	"github.com/seujia/storefront/internal/idempotency"
	"github.com/seujia/storefront/internal/order"
	"github.com/seujia/storefront/internal/payment"
	"github.com/seujia/storefront/internal/session"
	"github.com/seujia/storefront/internal/shipping"
)

const maxBodyBytes = 1 << 20

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, cart.ErrInvalidSession),
		errors.Is(err, cart.ErrInvalidItem),
		errors.Is(err, payment.ErrInvalidSignature),
		errors.Is(err, payment.ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidCredentials),
		errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrTrackingUnavailable),
		errors.Is(err, shipping.ErrShipmentNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrVariantNotFound),
		errors.Is(err, coupon.ErrCouponNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidStatusTransition),
		errors.Is(err, order.ErrStatusConflict),
		errors.Is(err, order.ErrInsufficientStock),
		errors.Is(err, coupon.ErrCodeExists),
		errors.Is(err, coupon.ErrUsageCapped),
		errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, idempotency.ErrFingerprintMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrPaymentGateway),
		errors.Is(err, shipping.ErrNoCarrier):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError writes err with its mapped status. Client errors
// carry the error text; server errors are replaced by fallback.
func respondWithServiceError(w http.ResponseWriter, err error, fallback string) {
	code := mapErrorToStatusCode(err)
	if code >= http.StatusInternalServerError {
		respondWithError(w, code, fallback)
		return
	}

	var ve *order.ValidationError
	if errors.As(err, &ve) {
		respondWithError(w, code, ve.Message)
		return
	}
	respondWithError(w, code, capitalize(err.Error()))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			details[field] = "This field is required"
		case "email":
			details[field] = "Invalid email format"
		case "min", "gte":
			details[field] = fmt.Sprintf("Must be at least %s", fe.Param())
		case "max", "lte":
			details[field] = fmt.Sprintf("Must be at most %s", fe.Param())
		case "gt":
			details[field] = fmt.Sprintf("Must be greater than %s", fe.Param())
		case "oneof":
			details[field] = fmt.Sprintf("Must be one of: %s", fe.Param())
		default:
			details[field] = fmt.Sprintf("Failed on the '%s' rule", fe.Tag())
		}
	}
	return details
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the error response itself and reports whether to continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}

	if validate == nil {
		return true
	}
	if err := validate.Struct(dst); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if ok {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}
	return true
}
