package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type AppConfig struct {
	Name          string
	Port          string
	Env           string
	BaseURL       string
	LogLevel      string
	LogFormat     string
	StorageDriver string
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

type RedisConfig struct {
	URL            string
	CartTTL        time.Duration
	IdempotencyTTL time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	EmailTopic string
	GroupID    string
}

type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type ShiprocketConfig struct {
	Email         string
	Password      string
	BaseURL       string
	PickupPincode string
}

type AdminConfig struct {
	Email        string
	PasswordHash string
	JWTSecret    string
	SessionTTL   time.Duration
}

type CheckoutConfig struct {
	Currency          string
	RejectOnShortfall bool
	ExternalTimeout   time.Duration
	NotifyTimeout     time.Duration
}

type ShippingConfig struct {
	RatesFile string
}

type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	SMTP       SMTPConfig
	Razorpay   RazorpayConfig
	Stripe     StripeConfig
	Shiprocket ShiprocketConfig
	Admin      AdminConfig
	Checkout   CheckoutConfig
	Shipping   ShippingConfig
}

// NewConfig loads configuration from the process environment, reading the
// .env file named by ENV_FILE first when it is set.
func NewConfig() (*Config, error) {
	return Load(os.Getenv("ENV_FILE"))
}

func Load(path string) (*Config, error) {
	if path != "" {
		err := godotenv.Load(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}

	cfg.App.Name = getEnv("APP_NAME", "storefront")
	cfg.App.Port = getEnv("APP_PORT", "8080")
	cfg.App.Env = getEnv("APP_ENV", "development")
	cfg.App.BaseURL = strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/")
	cfg.App.LogLevel = getEnv("LOG_LEVEL", "debug")
	cfg.App.LogFormat = getEnv("LOG_FORMAT", "console")
	cfg.App.StorageDriver = strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverPostgres))

	var missing []string

	cfg.Postgres.Host = os.Getenv("DB_HOST")
	cfg.Postgres.Port = getEnv("DB_PORT", "5432")
	cfg.Postgres.User = os.Getenv("DB_USER")
	cfg.Postgres.Password = os.Getenv("DB_PASSWORD")
	cfg.Postgres.DBName = os.Getenv("DB_NAME")
	cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Postgres.MigrationsPath = getEnv("DB_MIGRATIONS_PATH", "migrations")

	maxConns, err := getEnvInt("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	minConns, err := getEnvInt("DB_MIN_CONNS", 1)
	if err != nil {
		return nil, err
	}
	cfg.Postgres.MaxConns = int32(maxConns)
	cfg.Postgres.MinConns = int32(minConns)
	if cfg.Postgres.MaxConnLifetime, err = getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour); err != nil {
		return nil, err
	}

	if cfg.App.StorageDriver == StorageDriverPostgres {
		for key, value := range map[string]string{
			"DB_HOST":     cfg.Postgres.Host,
			"DB_USER":     cfg.Postgres.User,
			"DB_PASSWORD": cfg.Postgres.Password,
			"DB_NAME":     cfg.Postgres.DBName,
		} {
			if value == "" {
				missing = append(missing, key)
			}
		}
	} else if cfg.App.StorageDriver != StorageDriverMemory {
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.App.StorageDriver)
	}

	cfg.Redis.URL = os.Getenv("REDIS_URL")
	if cfg.Redis.CartTTL, err = getEnvDuration("CART_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Redis.IdempotencyTTL, err = getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	cfg.Kafka.EmailTopic = getEnv("KAFKA_EMAIL_TOPIC", "storefront.emails")
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", "storefront-notifier")

	cfg.SMTP.Host = getEnv("SMTP_HOST", "smtp.gmail.com")
	cfg.SMTP.Port = getEnv("SMTP_PORT", "587")
	cfg.SMTP.User = os.Getenv("SMTP_USER")
	cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	cfg.SMTP.From = os.Getenv("EMAIL_FROM")
	if cfg.SMTP.From == "" && cfg.SMTP.User != "" {
		cfg.SMTP.From = fmt.Sprintf("Seujia Honey <%s>", cfg.SMTP.User)
	}

	cfg.Razorpay.KeyID = os.Getenv("RAZORPAY_KEY_ID")
	cfg.Razorpay.KeySecret = os.Getenv("RAZORPAY_KEY_SECRET")
	cfg.Razorpay.WebhookSecret = os.Getenv("RAZORPAY_WEBHOOK_SECRET")
	cfg.Razorpay.BaseURL = getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com")

	cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.Stripe.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")

	cfg.Shiprocket.Email = os.Getenv("SHIPROCKET_EMAIL")
	cfg.Shiprocket.Password = os.Getenv("SHIPROCKET_PASSWORD")
	cfg.Shiprocket.BaseURL = getEnv("SHIPROCKET_BASE_URL", "https://apiv2.shiprocket.in/v1/external")
	cfg.Shiprocket.PickupPincode = getEnv("SHIPROCKET_PICKUP_PINCODE", "781001")

	cfg.Admin.Email = os.Getenv("ADMIN_EMAIL")
	cfg.Admin.PasswordHash = os.Getenv("ADMIN_PASSWORD_HASH")
	cfg.Admin.JWTSecret = os.Getenv("ADMIN_JWT_SECRET")
	if cfg.Admin.SessionTTL, err = getEnvDuration("ADMIN_SESSION_TTL", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Admin.JWTSecret != "" && len(cfg.Admin.JWTSecret) < 32 {
		return nil, errors.New("ADMIN_JWT_SECRET must be at least 32 characters long")
	}

	cfg.Checkout.Currency = strings.ToUpper(getEnv("CHECKOUT_CURRENCY", "INR"))
	if cfg.Checkout.RejectOnShortfall, err = getEnvBool("CHECKOUT_REJECT_SHORTFALL", false); err != nil {
		return nil, err
	}
	if cfg.Checkout.ExternalTimeout, err = getEnvDuration("EXTERNAL_CALL_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Checkout.NotifyTimeout, err = getEnvDuration("NOTIFY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.Shipping.RatesFile = os.Getenv("SHIPPING_RATES_FILE")

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
