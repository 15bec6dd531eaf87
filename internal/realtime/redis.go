package realtime

import (
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/trm-platform/trm-backend/internal/config"
)

// NewRedis builds the Redis client used for the job metadata cache and the
// status event channel. Balances are never cached here.
func NewRedis(cfg config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	log.Printf("Redis client created (addr: %s)", cfg.RedisAddr)
	return rdb
}
