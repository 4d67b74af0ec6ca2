// Package ratelimit builds the fiber.Storage shared by the quota limiters and
// the Redis probe used by readiness checks.
package ratelimit

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/redis/go-redis/v9"

	"mark2pdf/internal/infra/logging"
)

// RedisConfig locates the quota database. An empty Addr selects in-memory storage.
type RedisConfig struct {
	Addr string
	DB   int
}

// NewStore returns Redis-backed storage when reachable and in-memory storage
// otherwise. It never returns nil.
func NewStore(cfg RedisConfig) fiber.Storage {
	var store fiber.Storage = memoryStorage.New()
	if cfg.Addr == "" {
		logging.Info("Using in-memory storage for rate limiting")
		return store
	}

	func() {
		// redis storage panics when the first ping fails.
		defer func() {
			if r := recover(); r != nil {
				logging.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
			}
		}()
		store = redisStorage.New(redisStorage.Config{
			Addrs:    []string{cfg.Addr},
			Database: cfg.DB,
		})
		logging.Info("Using Redis for rate limiting", "addr", cfg.Addr, "db", cfg.DB)
	}()
	return store
}

// NewClient returns a go-redis client for readiness probes, or nil when addr is empty.
func NewClient(cfg RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
		ReadTimeout: time.Second,
	})
}

// Ping checks Redis within one second. A nil client is always ready.
func Ping(ctx context.Context, rdb *redis.Client) error {
	if rdb == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}
