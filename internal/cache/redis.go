package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/betterme/betterme/internal/logger"
)

// RedisOptions configures a RedisStorage.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// ItemTTL expires items that are not rewritten in time. Zero keeps them
	// until removed.
	ItemTTL time.Duration
}

// RedisStorage stores cache items in Redis so several processes can share
// one cache.
type RedisStorage struct {
	client  redis.UniversalClient
	itemTTL time.Duration
}

// NewRedisStorage creates a client with connection pooling. Connectivity is
// checked by Init.
func NewRedisStorage(opts RedisOptions) *RedisStorage {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	return &RedisStorage{client: client, itemTTL: opts.ItemTTL}
}

// NewRedisStorageFromClient wraps an existing client.
func NewRedisStorageFromClient(client redis.UniversalClient, itemTTL time.Duration) *RedisStorage {
	return &RedisStorage{client: client, itemTTL: itemTTL}
}

// Init pings the server.
func (r *RedisStorage) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		logger.ErrorWithFields("Failed to connect to Redis", err)
		return fmt.Errorf("redis ping: %w", err)
	}

	logger.Log.Debug("Redis cache storage connected")
	return nil
}

func (r *RedisStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisStorage) SetItem(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, r.itemTTL).Err()
}

func (r *RedisStorage) RemoveItem(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Close closes the underlying connection pool.
func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		logger.Log.Warn("Failed to close Redis client", zap.Error(err))
		return err
	}
	return nil
}
