// Package dbtest connects integration tests to a disposable Postgres
// database configured through DB_*_TEST variables.
package dbtest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seujia/storefront/internal/db"
	"github.com/seujia/storefront/pkg/config"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func migrationsPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
}

// Open returns a migrated pool, or nil when DB_HOST_TEST is not set.
func Open() (*pgxpool.Pool, error) {
	host := os.Getenv("DB_HOST_TEST")
	if host == "" {
		return nil, nil
	}

	cfg := config.PostgresConfig{
		Host:           host,
		Port:           getEnv("DB_PORT_TEST", "5432"),
		User:           getEnv("DB_USER_TEST", "postgres"),
		Password:       getEnv("DB_PASSWORD_TEST", "postgres"),
		DBName:         getEnv("DB_NAME_TEST", "storefront_test"),
		SSLMode:        getEnv("DB_SSLMODE_TEST", "disable"),
		MaxConns:       10,
		MigrationsPath: migrationsPath(),
	}

	if err := db.ApplyMigrations(cfg); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg, err := db.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pg.Pool, nil
}
