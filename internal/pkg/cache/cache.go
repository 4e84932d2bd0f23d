package cache

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
)

// limiterDatabase keeps rate limiter counters apart from the lock keys.
const limiterDatabase = 1

// NewClient connects to the Redis/Dragonfly server. A failed ping is logged
// and not fatal; lock acquisition reports the error later.
func NewClient(ctx context.Context, cfg config.CacheConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to cache server: %v", err)
	} else {
		log.Infof("[Cache] Successfully connected to cache server: %s", pong)
	}
	return client
}

// NewLimiterStorage returns fiber storage for the rate limiter backed by the
// same server, using a separate database.
func NewLimiterStorage(cfg config.CacheConfig) fiber.Storage {
	return redisstorage.New(redisstorage.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
