package cache

import (
	"fmt"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory builds the Redis-backed stores, or their in-memory fallbacks when
// Redis is disabled or unreachable. It owns the Redis client.
type Factory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	connect               func(config.RedisConfig) (*redis.Client, error)

	client *redis.Client
	tried  bool
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to process-local stores.
// Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// NewFactory creates a new factory
func NewFactory(cfg config.RedisConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		connect:               NewRedisClient,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// redisClient connects once. A nil client with nil error means Redis is disabled.
func (f *Factory) redisClient() (*redis.Client, error) {
	if !f.redisConfig.Enabled {
		return nil, nil
	}
	if f.tried {
		if f.client == nil {
			return nil, fmt.Errorf("redis at %s unavailable", f.redisConfig.Addr())
		}
		return f.client, nil
	}
	f.tried = true
	client, err := f.connect(f.redisConfig)
	if err != nil {
		return nil, err
	}
	f.client = client
	return client, nil
}

func (f *Factory) fallback(what string, err error) error {
	if err == nil {
		f.logger.Info("redis disabled, using in-memory " + what)
		return nil
	}
	if !f.allowInMemoryFallback {
		return fmt.Errorf("redis required for %s but unavailable: %w", what, err)
	}
	f.logger.Warn("redis unavailable, falling back to in-memory "+what+
		"; state is not shared between instances",
		zap.Error(err),
	)
	return nil
}

// CreateIdempotencyStore returns the webhook delivery dedupe store
func (f *Factory) CreateIdempotencyStore() (shared.IdempotencyStore, error) {
	client, err := f.redisClient()
	if client != nil {
		f.logger.Info("using Redis idempotency store")
		return NewRedisIdempotencyStore(client, DefaultDeliveryPrefix), nil
	}
	if err := f.fallback("idempotency store", err); err != nil {
		return nil, err
	}
	return NewInMemoryIdempotencyStore(), nil
}

// CreateLocker returns the lease provider used to keep reconciliation single-instance
func (f *Factory) CreateLocker() (shared.Locker, error) {
	client, err := f.redisClient()
	if client != nil {
		f.logger.Info("using Redis lease locker")
		return NewRedisLocker(client), nil
	}
	if err := f.fallback("lease locker", err); err != nil {
		return nil, err
	}
	return NewInMemoryLocker(), nil
}

// Close closes the Redis client, if one was opened
func (f *Factory) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}
