package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/seujia/storefront/internal/cart"
	"github.com/seujia/storefront/internal/catalog"
	"github.com/seujia/storefront/internal/coupon"
	"github.com/seujia/storefront/internal/db"
	"github.com/seujia/storefront/internal/handler"
	"github.com/seujia/storefront/internal/idempotency"
	"github.com/seujia/storefront/internal/inventory"
	"github.com/seujia/storefront/internal/logging"
	"github.com/seujia/storefront/internal/memstore"
	"github.com/seujia/storefront/internal/notify"
	"github.com/seujia/storefront/internal/order"
	"github.com/seujia/storefront/internal/payment"
	"github.com/seujia/storefront/internal/session"
	"github.com/seujia/storefront/internal/shipping"
	"github.com/seujia/storefront/internal/shiprocket"
	"github.com/seujia/storefront/internal/transport"
	"github.com/seujia/storefront/pkg/config"
)

type storage struct {
	products  catalog.Repository
	inventory inventory.Store
	coupons   coupon.Repository
	orders    order.Repository
	ping      func(ctx context.Context) error
	close     func()
}

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logging.Setup("storefront", "info", "console")
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Setup(cfg.App.Name, cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("env", cfg.App.Env).Str("storage", cfg.App.StorageDriver).Msg("Storefront starting...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := openStorage(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.close()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		redisClient, err = db.NewRedis(ctx, cfg.Redis.URL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
	}

	var (
		cartStore cart.Store
		idemStore idempotency.Store
	)
	if redisClient != nil {
		cartStore = cart.NewRedisStore(redisClient, cfg.Redis.CartTTL)
		idemStore = idempotency.NewRedisStore(redisClient, cfg.Redis.IdempotencyTTL)
	} else {
		log.Warn().Msg("REDIS_URL not set, carts and idempotency keys are kept in memory")
		cartStore = cart.NewMemoryStore(cfg.Redis.CartTTL)
		idemStore = idempotency.NewMemoryStore(cfg.Redis.IdempotencyTTL)
	}

	rates, err := shipping.LoadCatalog(cfg.Shipping.RatesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load shipping rates")
	}
	var (
		quoter  shipping.Quoter = shipping.NewTableQuoter(shipping.NewCalculator(rates))
		tracker shipping.Tracker
	)
	if cfg.Shiprocket.Email != "" && cfg.Shiprocket.Password != "" {
		sr := shiprocket.NewClient(cfg.Shiprocket.Email, cfg.Shiprocket.Password,
			shiprocket.WithBaseURL(cfg.Shiprocket.BaseURL),
			shiprocket.WithTimeout(cfg.Checkout.ExternalTimeout),
		)
		quoter = shipping.NewFallbackQuoter(shipping.NewCarrierQuoter(sr, rates, cfg.Shiprocket.PickupPincode), quoter)
		tracker = sr
		log.Info().Msg("Shiprocket rates and tracking enabled")
	}

	gateways := paymentGateways(cfg)

	var notifier notify.Notifier = notify.LogNotifier{}
	switch {
	case len(cfg.Kafka.Brokers) > 0:
		queue := notify.NewKafkaQueue(cfg.Kafka.Brokers, cfg.Kafka.EmailTopic)
		defer queue.Close()
		notifier = queue
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.EmailTopic).Msg("E-mails are queued to Kafka")
	case cfg.SMTP.User != "":
		notifier = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	default:
		log.Warn().Msg("No mail transport configured, e-mails are only logged")
	}
	dispatcher := notify.NewDispatcher(notifier, cfg.Checkout.NotifyTimeout)

	coupons := coupon.NewService(store.coupons)
	orders := order.NewService(order.Deps{
		Repo:      store.orders,
		Products:  store.products,
		Inventory: inventory.NewLedger(store.inventory),
		Coupons:   coupons,
		Quoter:    quoter,
		Gateways:  gateways,
		Tracker:   tracker,
		Mailer:    dispatcher,
	}, order.Options{
		Currency:          cfg.Checkout.Currency,
		RejectOnShortfall: cfg.Checkout.RejectOnShortfall,
		ExternalTimeout:   cfg.Checkout.ExternalTimeout,
		BaseURL:           cfg.App.BaseURL,
	})

	secret := cfg.Admin.JWTSecret
	if secret == "" {
		secret = randomSecret()
		log.Warn().Msg("ADMIN_JWT_SECRET not set, admin sessions will not survive a restart")
	}
	sessions := session.NewManager(secret, cfg.Admin.SessionTTL)
	auth := session.NewAuthenticator(cfg.Admin.Email, cfg.Admin.PasswordHash, sessions)
	if !auth.Enabled() {
		log.Warn().Msg("Admin account is not configured, admin login is disabled")
	}

	router := transport.NewRouter(transport.RouterDeps{
		Storefront:  handler.NewStorefrontHandler(orders, store.products, coupons, quoter),
		Cart:        handler.NewCartHandler(cart.NewService(cartStore, store.products)),
		Webhooks:    handler.NewWebhookHandler(orders),
		Admin:       handler.NewAdminHandler(orders, coupons, auth),
		Idempotency: idemStore,
		Sessions:    sessions,
		Ping:        store.ping,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
	dispatcher.Wait()
	log.Info().Msg("Server stopped")
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.App.StorageDriver == config.StorageDriverMemory {
		mem := memstore.New()
		mem.Seed()
		log.Warn().Msg("Using in-memory storage seeded with the demo catalog")
		return &storage{
			products:  mem.Products(),
			inventory: mem.Inventory(),
			coupons:   mem.Coupons(),
			orders:    mem.Orders(),
			close:     func() {},
		}, nil
	}

	if err := db.ApplyMigrations(cfg.Postgres); err != nil {
		return nil, err
	}
	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	return &storage{
		products:  catalog.NewRepository(pg.Pool),
		inventory: inventory.NewPostgresStore(pg.Pool),
		coupons:   coupon.NewRepository(pg.Pool),
		orders:    order.NewRepository(pg.Pool),
		ping:      pg.Pool.Ping,
		close:     pg.Close,
	}, nil
}

func paymentGateways(cfg *config.Config) []payment.Gateway {
	var gateways []payment.Gateway

	if cfg.Razorpay.KeyID != "" {
		rp, err := payment.NewRazorpayGateway(payment.RazorpayConfig{
			KeyID:         cfg.Razorpay.KeyID,
			KeySecret:     cfg.Razorpay.KeySecret,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
			BaseURL:       cfg.Razorpay.BaseURL,
			Timeout:       cfg.Checkout.ExternalTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure Razorpay")
		}
		gateways = append(gateways, rp)
		log.Info().Msg("Razorpay payments enabled")
	}

	if cfg.Stripe.SecretKey != "" {
		st, err := payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure Stripe")
		}
		gateways = append(gateways, st)
		log.Info().Msg("Stripe payments enabled")
	}

	if len(gateways) == 0 {
		log.Warn().Msg("No payment gateway configured, only cash on delivery is available")
	}
	return gateways
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate session secret")
	}
	return hex.EncodeToString(b)
}
