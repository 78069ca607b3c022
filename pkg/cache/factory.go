package cache

import (
	"context"
	"fmt"
)

// Backend names accepted by NewStore.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and configures a Store backend.
type Config struct {
	Backend   string
	RedisAddr string
	Password  string
	DB        int
	KeyPrefix string
}

// NewStore creates a Store based on configuration.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis_addr is required when backend=redis")
		}
		return NewRedisStore(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.Password,
			DB:        cfg.DB,
			KeyPrefix: cfg.KeyPrefix,
		})

	case BackendMemory, "":
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
