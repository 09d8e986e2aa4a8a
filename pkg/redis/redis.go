// Package redis provides the shared redis client used by the velocity
// store, webhook rate limiting, and scheduler locks.
package redis

import (
	"context"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/svarade/payoutcore/internal/config"
)

// New builds the client from configuration. A blank address yields a nil
// client; consumers fall back to in-process implementations.
func New(lc fx.Lifecycle, cfg config.Config) *goredis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client
}

var Module = fx.Module("pkg.redis",
	fx.Provide(New),
)
