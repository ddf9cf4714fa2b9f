package dbtest

import (
	"context"
	"os"

	"github.com/go-redis/redis/v8"

	"github.com/seujia/storefront/internal/db"
)

// OpenRedis returns a client for REDIS_URL_TEST, or nil when it is not set.
func OpenRedis() (*redis.Client, error) {
	url := os.Getenv("REDIS_URL_TEST")
	if url == "" {
		return nil, nil
	}
	return db.NewRedis(context.Background(), url)
}
