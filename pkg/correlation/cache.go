package correlation

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "erpbridge:correlation:"

// CachedRegistry puts a Redis read-through cache in front of another
// registry. Cache errors degrade to the inner registry; they never fail a
// resolve or a registration on their own.
type CachedRegistry struct {
	inner  Registry
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedRegistry(inner Registry, rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedRegistry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedRegistry{inner: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func (r *CachedRegistry) Resolve(ctx context.Context, key string) (int64, error) {
	recordID, err := r.rdb.Get(ctx, cacheKeyPrefix+key).Int64()
	if err == nil {
		return recordID, nil
	}
	if !errors.Is(err, redis.Nil) {
		r.logger.Warn("correlation cache read failed", zap.String("key", key), zap.Error(err))
	}

	recordID, err = r.inner.Resolve(ctx, key)
	if err != nil {
		return 0, err
	}
	r.put(ctx, key, recordID)
	return recordID, nil
}

func (r *CachedRegistry) Register(ctx context.Context, key, targetModel string, recordID int64) error {
	if err := r.inner.Register(ctx, key, targetModel, recordID); err != nil {
		return err
	}
	r.put(ctx, key, recordID)
	return nil
}

func (r *CachedRegistry) put(ctx context.Context, key string, recordID int64) {
	if err := r.rdb.Set(ctx, cacheKeyPrefix+key, recordID, r.ttl).Err(); err != nil {
		r.logger.Warn("correlation cache write failed", zap.String("key", key), zap.Error(err))
	}
}
