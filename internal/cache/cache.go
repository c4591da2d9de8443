package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/medsearch-ai/orchestrator/internal/circuitbreaker"
	"github.com/medsearch-ai/orchestrator/internal/metrics"
)

// Store is a TTL key-value store used for embeddings and search results.
// Implementations must be safe for concurrent use. A miss by two concurrent
// callers for the same key may both compute and write; last write wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string) error
}

// RedisStore is a circuit-breaker wrapped Redis cache. Every operation is
// bounded by opTimeout; a slow or failed read is treated as a miss so the
// cache never blocks the workflow's critical path.
type RedisStore struct {
	cli       *circuitbreaker.RedisWrapper
	opTimeout time.Duration
	logger    *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, opTimeout time.Duration, logger *zap.Logger) (*RedisStore, error) {
	if opTimeout <= 0 {
		opTimeout = 200 * time.Millisecond
	}
	rc := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	wrapper := circuitbreaker.NewRedisWrapper(rc, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wrapper.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{cli: wrapper, opTimeout: opTimeout, logger: logger}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	b, err := r.cli.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			metrics.CacheOps.WithLabelValues(Namespace(key), "error").Inc()
		} else {
			metrics.CacheOps.WithLabelValues(Namespace(key), "miss").Inc()
		}
		return nil, false
	}
	metrics.CacheOps.WithLabelValues(Namespace(key), "hit").Inc()
	return b, true
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.cli.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Debug("cache write failed", zap.String("key", key), zap.Error(err))
		metrics.CacheOps.WithLabelValues(Namespace(key), "error").Inc()
		return
	}
	metrics.CacheOps.WithLabelValues(Namespace(key), "write").Inc()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	return r.cli.Del(ctx, key).Err()
}

// Close releases the Redis connection.
func (r *RedisStore) Close() error { return r.cli.Close() }

// Ping reports backend reachability for health checks.
func (r *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	return r.cli.Ping(ctx).Err()
}
