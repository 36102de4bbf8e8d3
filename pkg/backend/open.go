// Package backend selects and opens the ledger store named in configuration.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/erain9/bourse/config"
	"github.com/erain9/bourse/pkg/backend/memory"
	"github.com/erain9/bourse/pkg/backend/pebble"
	"github.com/erain9/bourse/pkg/backend/redis"
	"github.com/erain9/bourse/pkg/core"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

const connectTimeout = 5 * time.Second

// Open returns the configured store. Redis connectivity is verified before
// returning so a misconfigured process fails at startup.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (core.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		logger.Warn().Msg("Using in-memory ledger store; state is lost on exit and not shared between processes")
		return memory.NewMemoryBackend(), nil

	case config.StorePebble:
		store, err := pebble.Open(cfg.Store.PebblePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.Store.PebblePath).Msg("Opened pebble ledger store")
		return store, nil

	case config.StoreRedis:
		redis.SetDefaultRedisOptions(&redis.RedisOptions{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.Password,
			DB:       cfg.Store.DB,
		})
		zl, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to create store logger: %w", err)
		}
		store := redis.NewRedisBackend(redis.GetRedisClient(), "", zl.Named("redis-store"))

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Store.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.Store.RedisAddr).Msg("Connected to redis ledger store")
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
