package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/loginfirewall/internal/config"
)

// NewRedis connects the portal session store. Like MariaDB it is retried
// while the container next door comes up.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := waitFor(ctx, "redis", cfg.ConnectAttempts, firstDelay, ping); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
