package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/seujia/storefront/internal/handler"
	"github.com/seujia/storefront/internal/idempotency"
	"github.com/seujia/storefront/internal/session"
)

type RouterDeps struct {
	Storefront  *handler.StorefrontHandler
	Cart        *handler.CartHandler
	Webhooks    *handler.WebhookHandler
	Admin       *handler.AdminHandler
	Idempotency idempotency.Store
	Sessions    *session.Manager
	// Ping reports storage health; nil means always healthy.
	Ping func(ctx context.Context) error
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler(deps.Ping))

	r.Route("/api", func(r chi.Router) {
		var checkout []func(http.Handler) http.Handler
		if deps.Idempotency != nil {
			checkout = append(checkout, idempotency.Middleware(deps.Idempotency))
		}
		deps.Storefront.RegisterRoutes(r, checkout...)
		deps.Cart.RegisterRoutes(r)
		deps.Webhooks.RegisterRoutes(r)
		deps.Admin.RegisterRoutes(r, session.RequireAdmin(deps.Sessions))
	})

	return r
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				log.Error().Err(err).Msg("Health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("UNAVAILABLE"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := log.Info()
			if status >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		}()

		next.ServeHTTP(ww, r)
	})
}
