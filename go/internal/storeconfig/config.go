package storeconfig

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// NewConfigFromEnv reads REDIS_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		db = 0
	}
	poolSize, err := strconv.Atoi(getEnv("REDIS_POOL_SIZE", "20"))
	if err != nil {
		poolSize = 20
	}

	return Config{
		Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        db,
		PoolSize:  poolSize,
		KeyPrefix: getEnv("REDIS_KEY_PREFIX", "blitz:"),
	}
}

// Options returns client options for this config.
func (c Config) Options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Connect opens a client and verifies it with PING.
func (c Config) Connect(ctx context.Context) (*redis.Client, error) {
	client := redis.NewClient(c.Options())
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", c.Addr, err)
	}
	return client, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
