package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/mcdev12/blitz/go/internal/storeconfig"
	"github.com/rs/zerolog/log"
)

func setupDatabase(ctx context.Context) (*redis.Client, storeconfig.Config, error) {
	redisCfg := storeconfig.NewConfigFromEnv()

	client, err := redisCfg.Connect(ctx)
	if err != nil {
		return nil, redisCfg, fmt.Errorf("failed to create redis connection: %w", err)
	}

	log.Info().
		Str("addr", redisCfg.Addr).
		Int("db", redisCfg.DB).
		Str("key_prefix", redisCfg.KeyPrefix).
		Msg("connected to redis")
	return client, redisCfg, nil
}
